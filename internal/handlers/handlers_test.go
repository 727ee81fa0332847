package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/statforge/statstream/internal/apiclient"
	"github.com/statforge/statstream/internal/auth"
	"github.com/statforge/statstream/internal/jobs"
	"github.com/statforge/statstream/internal/store"
	"github.com/statforge/statstream/internal/transform"
	"github.com/statforge/statstream/internal/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeCompute struct {
	result      upstream.AnalysisResult
	err         error
	lastPayload map[string]interface{}
}

func (f *fakeCompute) Descriptive(ctx context.Context, p map[string]interface{}) (upstream.AnalysisResult, error) {
	f.lastPayload = p
	return f.result, f.err
}

func (f *fakeCompute) Frequency(ctx context.Context, p map[string]interface{}) (upstream.AnalysisResult, error) {
	f.lastPayload = p
	return f.result, f.err
}

func (f *fakeCompute) Crosstab(ctx context.Context, p map[string]interface{}) (upstream.AnalysisResult, error) {
	f.lastPayload = p
	return f.result, f.err
}

func (f *fakeCompute) ListModels(ctx context.Context) ([]map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []map[string]interface{}{{"id": "m-1"}}, nil
}

type okRunner struct{}

func (okRunner) Run(ctx context.Context, job *store.Job) (map[string]interface{}, error) {
	return map[string]interface{}{"ok": true}, nil
}

type testEnv struct {
	handler *Handler
	store   *store.Store
	compute *fakeCompute
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "statstream.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authMgr, err := auth.New(auth.Options{
		Secret:      "test-secret",
		AdminUser:   "admin",
		AdminSecret: "swordfish",
	})
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}

	jobMgr := jobs.New(jobs.Options{
		Store: st,
		Runners: map[string]jobs.Runner{
			"dataset_upload":   okRunner{},
			"export_transform": okRunner{},
			"ml_train":         okRunner{},
			"data_clean":       okRunner{},
		},
	})

	validator, err := transform.NewValidator("")
	if err != nil {
		t.Fatalf("transform.NewValidator: %v", err)
	}

	compute := &fakeCompute{result: upstream.AnalysisResult{"chi2": 3.84}}
	handler := New(authMgr, jobMgr, nil, st, compute, validator, nil, nil, Options{
		DatasetRoot: t.TempDir(),
	})
	return &testEnv{handler: handler, store: st, compute: compute}
}

func jsonRequest(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return w, c
}

func TestLoginIssuesToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPost, "/auth/login", `{"username":"admin","password":"swordfish"}`)
	env.handler.Login(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token in the response")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPost, "/auth/login", `{"username":"admin","password":"wrong"}`)
	env.handler.Login(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", w.Code)
	}
}

func TestCrosstabProxiesCompute(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPost, "/crosstab/", `{"datasetId":"ds-1","rowVar":"region","colVar":"employment"}`)
	env.handler.Crosstab(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if env.compute.lastPayload["rowVar"] != "region" {
		t.Fatalf("payload not forwarded: %+v", env.compute.lastPayload)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["chi2"] != 3.84 {
		t.Fatalf("unexpected result: %+v", resp)
	}
}

func TestCrosstabMapsComputeValidationErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.compute.err = &apiclient.ValidationError{Fields: map[string]string{"rowVar": "unknown variable"}}

	w, c := jsonRequest(t, http.MethodPost, "/crosstab/", `{"datasetId":"ds-1","rowVar":"bogus"}`)
	env.handler.Crosstab(c)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "unknown variable") {
		t.Fatalf("field errors missing: %s", w.Body.String())
	}
}

func TestUploadDatasetStartsIngestJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "census.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("region,population\nnorth,120\n"))
	mw.Close()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/upload/", &buf)
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	c.Set("userID", "u-1")

	env.handler.UploadDataset(c)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Job  store.Job `json:"job"`
		File string    `json:"file"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Job.Type != "dataset_upload" || resp.Job.UserID != "u-1" {
		t.Fatalf("unexpected job: %+v", resp.Job)
	}
	if !strings.HasSuffix(resp.File, "census.csv") {
		t.Fatalf("unexpected stored file name: %s", resp.File)
	}
	stored := filepath.Join(env.handler.opts.DatasetRoot, resp.File)
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("uploaded file not persisted: %v", err)
	}
}

func TestUploadDatasetHonorsDisplayName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", "census-2024.csv")
	part, err := mw.CreateFormFile("file", "tmp-87123.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("region,population\nnorth,120\n"))
	mw.Close()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/upload/", &buf)
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())

	env.handler.UploadDataset(c)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasSuffix(resp.File, "census-2024.csv") {
		t.Fatalf("display name not honored: %s", resp.File)
	}
}

func TestUploadDatasetRequiresFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPost, "/upload/", `{}`)
	env.handler.UploadDataset(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", w.Code)
	}
}

func TestValidateTransformReportsFieldErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPost, "/api/export-transform/validate", `{"select":["a"]}`)
	env.handler.ValidateTransform(c)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Errors) == 0 {
		t.Fatal("expected field errors for missing datasetId")
	}
}

func TestRunTransformAcceptsJob(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPost, "/api/export-transform/run", `{"datasetId":"ds-1","format":"json"}`)
	env.handler.RunTransform(c)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Job store.Job `json:"job"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Job.Type != "export_transform" {
		t.Fatalf("unexpected job: %+v", resp.Job)
	}
	waitForTerminal(t, env.store, resp.Job.ID)
}

func TestTransformResultWhileRunning(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	job := &store.Job{ID: "j-running", Type: "export_transform", Status: store.JobRunning, Progress: 40}
	if err := env.store.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/export-transform/j-running/result", nil)
	c.Params = gin.Params{{Key: "id", Value: "j-running"}}

	env.handler.TransformResult(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	env.handler.GetJob(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", w.Code)
	}
}

func TestPartnerHandlersWithoutRegistry(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/federation/partners", nil)
	env.handler.ListPartners(c)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "not configured") {
		t.Fatalf("expected a registry-disabled error, got %s", w.Body.String())
	}

	w, c = jsonRequest(t, http.MethodPost, "/api/v1/federation/partners",
		`{"name":"north","baseUrl":"https://north.example"}`)
	env.handler.RegisterPartner(c)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/federation/partners/p-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}
	env.handler.GetPartner(c)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestSetPartnerStatusValidatesStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w, c := jsonRequest(t, http.MethodPut, "/api/v1/federation/partners/p-1/status", `{"status":"frozen"}`)
	c.Params = gin.Params{{Key: "id", Value: "p-1"}}
	env.handler.SetPartnerStatus(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestListHistoryUsesConfiguredLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.handler.opts.HistoryLimit = 2

	for i := 0; i < 5; i++ {
		err := env.store.AppendHistory(&store.HistoryEntry{
			Event:    "crosstab_completed",
			Metadata: map[string]interface{}{"n": i},
		})
		if err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/history", nil)
	env.handler.ListHistory(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		History []json.RawMessage `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(resp.History))
	}
}

func waitForTerminal(t *testing.T, s *store.Store, id string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			t.Fatalf("timed out waiting for job %s to finish", id)
		case <-ticker.C:
			job, err := s.GetJob(id)
			if err != nil {
				continue
			}
			if job.Status.Terminal() {
				return
			}
		}
	}
}
