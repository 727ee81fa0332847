// Package handlers provides HTTP request handlers for the gateway API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/statforge/statstream/internal/apiclient"
	"github.com/statforge/statstream/internal/auth"
	"github.com/statforge/statstream/internal/federation"
	"github.com/statforge/statstream/internal/jobs"
	"github.com/statforge/statstream/internal/queue"
	"github.com/statforge/statstream/internal/store"
	"github.com/statforge/statstream/internal/transform"
	"github.com/statforge/statstream/internal/upstream"
)

// Options configures handler runtime behavior.
type Options struct {
	DatasetRoot    string
	MaxUploadBytes int64
	HistoryLimit   int
}

type computeService interface {
	Descriptive(context.Context, map[string]interface{}) (upstream.AnalysisResult, error)
	Frequency(context.Context, map[string]interface{}) (upstream.AnalysisResult, error)
	Crosstab(context.Context, map[string]interface{}) (upstream.AnalysisResult, error)
	ListModels(context.Context) ([]map[string]interface{}, error)
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	auth      *auth.Manager
	jobs      *jobs.Manager
	producer  *queue.Producer
	store     *store.Store
	compute   computeService
	validator *transform.Validator
	catalog   *federation.Catalog
	registry  *federation.Registry
	opts      Options
}

// New creates a new Handler instance.
func New(authMgr *auth.Manager, jobMgr *jobs.Manager, producer *queue.Producer, st *store.Store, compute computeService, validator *transform.Validator, catalog *federation.Catalog, registry *federation.Registry, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	return &Handler{
		auth:      authMgr,
		jobs:      jobMgr,
		producer:  producer,
		store:     st,
		compute:   compute,
		validator: validator,
		catalog:   catalog,
		registry:  registry,
		opts:      opts,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type analysisRequest map[string]interface{}

type registerPartnerRequest struct {
	Name    string `json:"name" binding:"required"`
	BaseURL string `json:"baseUrl" binding:"required"`
	Contact string `json:"contact,omitempty"`
}

type partnerStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Health returns the health status of the service.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Login exchanges credentials for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	if h.auth == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "authentication is not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  gin.H{"userId": req.Username, "name": req.Username},
	})
}

// UploadDataset accepts a multipart dataset file and starts an ingest job.
func (h *Handler) UploadDataset(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	if file.Size > h.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "uploaded file exceeds the size limit"})
		return
	}
	base := filepath.Base(file.Filename)
	if display := c.PostForm("name"); display != "" {
		base = filepath.Base(display)
	}
	name := fmt.Sprintf("%s-%s", uuid.NewString()[:8], base)
	if err := os.MkdirAll(h.opts.DatasetRoot, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare dataset storage"})
		return
	}
	if err := c.SaveUploadedFile(file, filepath.Join(h.opts.DatasetRoot, name)); err != nil {
		log.Printf("upload: failed to persist %s: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store uploaded file"})
		return
	}

	job, err := h.submit(c, jobs.SubmitRequest{
		Type:   "dataset_upload",
		UserID: c.GetString("userID"),
		Payload: map[string]interface{}{
			"file":     name,
			"original": file.Filename,
			"size":     file.Size,
		},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job, "file": name})
}

// Crosstab runs a cross tabulation synchronously against the compute service.
func (h *Handler) Crosstab(c *gin.Context) {
	h.proxyAnalysis(c, h.compute.Crosstab)
}

// AnalyzeDescriptive runs descriptive statistics synchronously.
func (h *Handler) AnalyzeDescriptive(c *gin.Context) {
	h.proxyAnalysis(c, h.compute.Descriptive)
}

// AnalyzeFrequency runs frequency tables synchronously.
func (h *Handler) AnalyzeFrequency(c *gin.Context) {
	h.proxyAnalysis(c, h.compute.Frequency)
}

func (h *Handler) proxyAnalysis(c *gin.Context, call func(context.Context, map[string]interface{}) (upstream.AnalysisResult, error)) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := call(c.Request.Context(), req)
	if err != nil {
		respondComputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CleanDataset starts an asynchronous data cleaning job.
func (h *Handler) CleanDataset(c *gin.Context) {
	h.submitAnalysisJob(c, "data_clean")
}

// TrainModel starts an asynchronous model training job.
func (h *Handler) TrainModel(c *gin.Context) {
	h.submitAnalysisJob(c, "ml_train")
}

func (h *Handler) submitAnalysisJob(c *gin.Context, jobType string) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.submit(c, jobs.SubmitRequest{
		Type:    jobType,
		UserID:  c.GetString("userID"),
		Payload: req,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// ListModels returns the trained models known to the compute service.
func (h *Handler) ListModels(c *gin.Context) {
	models, err := h.compute.ListModels(c.Request.Context())
	if err != nil {
		respondComputeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// ValidateTransform checks a transform spec without executing it.
func (h *Handler) ValidateTransform(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	spec, fields, err := h.validator.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(fields) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": fields})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "spec": spec})
}

// RunTransform validates a transform spec and starts the export job.
func (h *Handler) RunTransform(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	_, fields, err := h.validator.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(fields) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": fields})
		return
	}
	var specDoc map[string]interface{}
	if err := json.Unmarshal(raw, &specDoc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spec is not a JSON object"})
		return
	}
	job, err := h.submit(c, jobs.SubmitRequest{
		Type:    "export_transform",
		UserID:  c.GetString("userID"),
		Payload: map[string]interface{}{"spec": specDoc},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// TransformResult streams the artifact produced by a finished export job.
func (h *Handler) TransformResult(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"status": job.Status, "progress": job.Progress})
		return
	}
	if job.Status == store.JobFailed {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": job.Error})
		return
	}
	artifact, _ := job.Result["artifact"].(string)
	if artifact == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "job produced no artifact"})
		return
	}
	contentType := "text/csv"
	if format, _ := job.Result["format"].(string); format == "json" {
		contentType = "application/json"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(artifact)))
	c.Header("Content-Type", contentType)
	c.File(artifact)
}

// ListJobs returns recent jobs, newest first.
func (h *Handler) ListJobs(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	list, err := h.jobs.ListJobs(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

// GetJob returns one job by ID.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListNotifications returns the persisted notification feed.
func (h *Handler) ListNotifications(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	items, err := h.store.ListNotifications(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

// ListHistory returns recent platform activity.
func (h *Handler) ListHistory(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), h.opts.HistoryLimit)
	entries, err := h.store.ListHistory(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

// FederationCatalog lists the dataset descriptors shared with partners.
func (h *Handler) FederationCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"datasets": h.catalog.List()})
}

// FederationDataset returns one shared dataset descriptor.
func (h *Handler) FederationDataset(c *gin.Context) {
	ds := h.catalog.Get(c.Param("id"))
	if ds == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dataset not found"})
		return
	}
	c.JSON(http.StatusOK, ds)
}

// ReloadFederationCatalog re-reads descriptors from disk.
func (h *Handler) ReloadFederationCatalog(c *gin.Context) {
	if err := h.catalog.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"datasets": h.catalog.Count()})
}

// registryEnabled reports whether the partner registry is configured and
// answers the request with a 503 otherwise.
func (h *Handler) registryEnabled(c *gin.Context) bool {
	if h.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "federation registry is not configured"})
		return false
	}
	return true
}

// ListPartners returns the registered federation partners.
func (h *Handler) ListPartners(c *gin.Context) {
	if !h.registryEnabled(c) {
		return
	}
	partners, err := h.registry.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"partners": partners})
}

// RegisterPartner adds a federation partner.
func (h *Handler) RegisterPartner(c *gin.Context) {
	if !h.registryEnabled(c) {
		return
	}
	var req registerPartnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	partner, err := h.registry.Register(c.Request.Context(), req.Name, req.BaseURL, req.Contact)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, partner)
}

// GetPartner returns a federation partner by ID.
func (h *Handler) GetPartner(c *gin.Context) {
	if !h.registryEnabled(c) {
		return
	}
	partner, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, federation.ErrPartnerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "partner not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, partner)
}

// SetPartnerStatus activates or suspends a federation partner.
func (h *Handler) SetPartnerStatus(c *gin.Context) {
	var req partnerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := strings.ToLower(req.Status)
	if status != federation.PartnerActive && status != federation.PartnerSuspended {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be active or suspended"})
		return
	}
	if !h.registryEnabled(c) {
		return
	}
	if err := h.registry.SetStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		if errors.Is(err, federation.ErrPartnerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "partner not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": status})
}

// submit persists a job and hands it to the queue, or runs it inline when no
// queue is configured.
func (h *Handler) submit(c *gin.Context, req jobs.SubmitRequest) (*store.Job, error) {
	job, err := h.jobs.CreateJob(req)
	if err != nil {
		return nil, err
	}
	if h.producer != nil {
		if err := h.producer.Enqueue(c.Request.Context(), job.ID, req); err != nil {
			return nil, fmt.Errorf("enqueue job: %w", err)
		}
		return job, nil
	}
	h.jobs.ExecuteJob(job)
	return job, nil
}

func respondComputeError(c *gin.Context, err error) {
	var vErr *apiclient.ValidationError
	if errors.As(err, &vErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": vErr.Fields})
		return
	}
	if errors.Is(err, apiclient.ErrUnauthorized) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "compute service rejected gateway credentials"})
		return
	}
	var aErr *apiclient.APIError
	if errors.As(err, &aErr) {
		c.JSON(aErr.StatusCode, gin.H{"error": aErr.Message})
		return
	}
	log.Printf("compute call failed: %v", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": "compute service unavailable"})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
