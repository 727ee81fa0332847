// Package main bootstraps the background worker that processes queued
// analysis jobs.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statforge/statstream/config"
	"github.com/statforge/statstream/internal/events"
	"github.com/statforge/statstream/internal/jobs"
	"github.com/statforge/statstream/internal/logutil"
	"github.com/statforge/statstream/internal/queue"
	"github.com/statforge/statstream/internal/redisx"
	"github.com/statforge/statstream/internal/store"
	"github.com/statforge/statstream/internal/transform"
	"github.com/statforge/statstream/internal/upstream"
	"github.com/statforge/statstream/internal/worker"
)

const workerVersion = "0.3.1"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting StatStream worker v%s", workerVersion)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logutil.Info("worker_bootstrap", map[string]interface{}{
		"version":        workerVersion,
		"redisAddr":      cfg.RedisAddr,
		"redisJobStream": cfg.RedisJobStream,
		"redisJobGroup":  cfg.RedisJobGroup,
	})

	stateStore, err := store.Open(cfg.DataStoreDSN)
	if err != nil {
		log.Fatalf("worker: failed to open datastore: %v", err)
	}
	defer stateStore.Close()

	redisClient, err := redisx.NewClient(redisx.Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		log.Fatalf("worker: failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	compute := upstream.New(cfg.ComputeBaseURL, cfg.ComputeToken, cfg.ComputeTimeout)
	validator, err := transform.NewValidator(cfg.TransformSchemaPath)
	if err != nil {
		log.Fatalf("worker: failed to load transform schema: %v", err)
	}

	jobManager := jobs.New(jobs.Options{
		Store: stateStore,
		Runners: map[string]jobs.Runner{
			"dataset_upload": &jobs.IngestRunner{Root: cfg.DatasetRoot},
			"data_clean":     compute,
			"descriptive":    compute,
			"frequency":      compute,
			"crosstab":       compute,
			"ml_train":       compute,
			"export_transform": &jobs.TransformRunner{
				Validator:   validator,
				DatasetRoot: cfg.DatasetRoot,
				ExportRoot:  cfg.ExportRoot,
			},
		},
		EventPublisher:   eventBus,
		MaxJobAttempts:   cfg.MaxJobAttempts,
		JobTimeout:       cfg.JobTimeout,
		NotificationKeep: cfg.NotifyFeedCap,
	})

	var jobConsumer *queue.Consumer
	if redisClient != nil {
		host, _ := os.Hostname()
		consumerName := fmt.Sprintf("%s-%d", host, time.Now().UnixNano())
		jobConsumer = queue.NewConsumer(redisClient, cfg.RedisJobStream, cfg.RedisJobGroup, consumerName)
	}

	runner := worker.New(worker.Options{
		Store:    stateStore,
		Jobs:     jobManager,
		Queue:    jobConsumer,
		Logger:   log.Default(),
		Interval: 1 * time.Minute,
	})

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
	log.Println("worker exited cleanly")
}
