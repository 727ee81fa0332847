// Package main is the entry point for the StatStream gateway service.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/statforge/statstream/config"
	"github.com/statforge/statstream/internal/api"
	"github.com/statforge/statstream/internal/auth"
	"github.com/statforge/statstream/internal/events"
	"github.com/statforge/statstream/internal/federation"
	"github.com/statforge/statstream/internal/handlers"
	"github.com/statforge/statstream/internal/jobs"
	"github.com/statforge/statstream/internal/logutil"
	"github.com/statforge/statstream/internal/queue"
	"github.com/statforge/statstream/internal/realtime"
	"github.com/statforge/statstream/internal/redisx"
	"github.com/statforge/statstream/internal/store"
	"github.com/statforge/statstream/internal/transform"
	"github.com/statforge/statstream/internal/upstream"
)

const (
	version         = "0.3.1"
	shutdownTimeout = 5 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Starting StatStream gateway v%s", version)

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	cfg := config.Load()
	logutil.Info("gateway_bootstrap", map[string]interface{}{
		"version":     version,
		"port":        cfg.ServerPort,
		"computeUrl":  cfg.ComputeBaseURL,
		"redisAddr":   cfg.RedisAddr,
		"datasetRoot": cfg.DatasetRoot,
	})

	stateStore, err := store.Open(cfg.DataStoreDSN)
	if err != nil {
		log.Fatalf("Failed to initialize state store: %v", err)
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
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	eventBus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  log.Default(),
		Channel: cfg.EventsChannel,
	})

	authManager, err := auth.New(auth.Options{
		Secret:      cfg.JWTSecret,
		Issuer:      cfg.JWTIssuer,
		TokenTTL:    cfg.TokenTTL,
		AdminUser:   cfg.AdminUser,
		AdminSecret: cfg.AdminSecret,
	})
	if err != nil {
		if cfg.AuthRequired {
			log.Fatalf("Failed to initialize auth: %v", err)
		}
		log.Printf("Auth unavailable (%v), continuing without it (AUTH_REQUIRED=false)", err)
	}
	routeAuth := authManager
	if !cfg.AuthRequired {
		routeAuth = nil
		log.Println("Authentication disabled (AUTH_REQUIRED=false)")
	}

	compute := upstream.New(cfg.ComputeBaseURL, cfg.ComputeToken, cfg.ComputeTimeout)

	validator, err := transform.NewValidator(cfg.TransformSchemaPath)
	if err != nil {
		log.Fatalf("Failed to load transform schema: %v", err)
	}

	catalog, err := federation.NewCatalog(cfg.FederationCatalogRoot, cfg.FederationSchemaPath)
	if err != nil {
		log.Fatalf("Failed to load federation catalog: %v", err)
	}
	if err := catalog.Load(); err != nil {
		log.Fatalf("Failed to load federation catalog: %v", err)
	}
	log.Printf("Loaded %d federation datasets", catalog.Count())
	go catalog.Watch(rootCtx, cfg.CatalogRefreshEvery)

	var registry *federation.Registry
	if cfg.FederationDSN != "" {
		registry, err = federation.OpenRegistry(cfg.FederationDSN)
		if err != nil {
			log.Fatalf("Failed to open federation registry: %v", err)
		}
		defer registry.Close()
	} else {
		log.Println("Federation registry disabled (FEDERATION_POSTGRES_DSN not set)")
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

	var producer *queue.Producer
	if redisClient != nil {
		producer = queue.NewProducer(redisClient, cfg.RedisJobStream)
		log.Printf("Job queue enabled on stream %s", cfg.RedisJobStream)
	} else {
		log.Println("No redis configured, jobs execute inline")
	}

	hub := realtime.NewHub(realtime.HubOptions{
		Bus:          eventBus,
		Logger:       log.Default(),
		SendQueue:    cfg.WSSendQueue,
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
	})
	go func() {
		if err := hub.Run(rootCtx); err != nil && err != context.Canceled {
			log.Printf("realtime hub stopped: %v", err)
		}
	}()

	h := handlers.New(authManager, jobManager, producer, stateStore, compute, validator, catalog, registry, handlers.Options{
		DatasetRoot:    cfg.DatasetRoot,
		MaxUploadBytes: cfg.UploadMaxMB << 20,
		HistoryLimit:   cfg.HistoryLimit,
	})

	server := api.NewServer(h, api.Options{
		Auth: routeAuth,
		Hub:  hub,
	})
	srv := server.Start(":" + cfg.ServerPort)
	log.Printf("Gateway listening on :%s", cfg.ServerPort)

	<-rootCtx.Done()
	log.Println("Shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Gateway forced to shutdown: %v", err)
	}
	log.Println("Gateway stopped")
}
