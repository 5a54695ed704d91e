package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ocrd/internal/job"
	"ocrd/internal/jobstore"
	"ocrd/internal/model"
	"ocrd/pkg/types"
)

type mockService struct {
	result     job.Result
	status     model.Status
	info       model.Info
	releaseErr error
	ready      bool
	records    map[string]jobstore.Record
	archiveDir string

	got       job.Submission
	gotBody   string
	gotForce  bool
	submitted int
}

func (m *mockService) Submit(ctx context.Context, sub job.Submission) job.Result {
	m.submitted++
	m.got = sub
	b, _ := io.ReadAll(sub.Source)
	m.gotBody = string(b)
	return m.result
}
func (m *mockService) ModelStatus(ctx context.Context) model.Status { return m.status }
func (m *mockService) ModelInfo(ctx context.Context) model.Info     { return m.info }
func (m *mockService) ReleaseModel(ctx context.Context, force bool) error {
	m.gotForce = force
	return m.releaseErr
}
func (m *mockService) Ready() bool { return m.ready }
func (m *mockService) Job(ctx context.Context, id string) (jobstore.Record, error) {
	r, ok := m.records[id]
	if !ok {
		return jobstore.Record{}, jobstore.ErrNotFound
	}
	return r, nil
}
func (m *mockService) Jobs(ctx context.Context, limit int) ([]jobstore.Record, error) {
	var out []jobstore.Record
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}
func (m *mockService) ArchivePath(name string) (string, error) {
	p := filepath.Join(m.archiveDir, name)
	if _, err := os.Stat(p); err != nil || m.archiveDir == "" {
		return "", os.ErrNotExist
	}
	return p, nil
}

func multipartRequest(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRecognizeText(t *testing.T) {
	svc := &mockService{result: job.Result{Success: true, Content: "hello", Message: "text extraction completed", Pages: 1}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/ocr/text", "a.png", "PNGDATA", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var body types.TaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !body.Success || body.TaskType != "text" || body.Content != "hello" || body.Pages != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
	if svc.got.Filename != "a.png" || svc.got.Task != types.TaskText || svc.gotBody != "PNGDATA" {
		t.Fatalf("unexpected submission: %+v body=%q", svc.got, svc.gotBody)
	}
}

func TestRecognizeTableFormat(t *testing.T) {
	svc := &mockService{result: job.Result{Success: true}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/ocr/table", "t.pdf", "%PDF-", map[string]string{"format": "latex"}))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.got.TableFormat != "latex" {
		t.Fatalf("format not passed: %+v", svc.got)
	}
}

func TestRecognizeValidationFailure(t *testing.T) {
	svc := &mockService{result: job.Result{ErrorKind: job.KindValidation, Message: "unsupported file type: .gif", Content: "x"}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/ocr/text", "a.gif", "GIF", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.TaskResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Success || body.Content != "" || !strings.Contains(body.Message, ".gif") {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRecognizeUnknownTask(t *testing.T) {
	svc := &mockService{}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/ocr/poetry", "a.png", "x", nil))
	if w.Code != http.StatusNotFound || svc.submitted != 0 {
		t.Fatalf("status=%d submitted=%d", w.Code, svc.submitted)
	}
}

func TestRecognizeMissingFile(t *testing.T) {
	svc := &mockService{}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/ocr/text", "", "", map[string]string{"x": "y"}))
	if w.Code != http.StatusBadRequest || svc.submitted != 0 {
		t.Fatalf("status=%d submitted=%d", w.Code, svc.submitted)
	}
}

func TestParseSplit(t *testing.T) {
	svc := &mockService{result: job.Result{
		Success:     true,
		JobID:       "j1",
		Message:     "Parsing completed",
		OutputDir:   "doc_j1",
		Files:       []string{"page_0/doc_page_0.md"},
		ArchiveName: "doc_parsed_1700000000000.zip",
		Pages:       1,
	}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/parse/split", "doc.pdf", "%PDF-1.4", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if !svc.got.Split || svc.got.Task != types.TaskParse {
		t.Fatalf("unexpected submission: %+v", svc.got)
	}
	var body types.ParseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.DownloadURL != "/static/doc_parsed_1700000000000.zip" || body.OutputDir != "doc_j1" || len(body.Files) != 1 || body.JobID != "j1" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestParseErrorMapping(t *testing.T) {
	cases := []struct {
		kind job.ErrorKind
		want int
	}{
		{job.KindValidation, http.StatusBadRequest},
		{job.KindModelUnavailable, http.StatusServiceUnavailable},
		{job.KindInference, http.StatusInternalServerError},
		{job.KindIO, http.StatusInternalServerError},
	}
	for _, c := range cases {
		svc := &mockService{result: job.Result{ErrorKind: c.kind, Message: "boom"}}
		w := httptest.NewRecorder()
		NewMux(svc).ServeHTTP(w, multipartRequest(t, "/parse", "doc.pdf", "%PDF-", nil))
		if w.Code != c.want {
			t.Fatalf("%s: status=%d want %d", c.kind, w.Code, c.want)
		}
		var body types.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Error != "boom" || body.Code != c.want {
			t.Fatalf("%s: body=%s err=%v", c.kind, w.Body.String(), err)
		}
	}
}

func TestParsePartialFailureIsOK(t *testing.T) {
	svc := &mockService{result: job.Result{Success: true, ErrorKind: job.KindPartialFailure, FailedPages: []int{2}, ArchiveName: "d.zip"}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/parse/split", "d.pdf", "%PDF-", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var body types.ParseResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.ErrorKind != "partial_failure" || len(body.FailedPages) != 1 || body.FailedPages[0] != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHealth(t *testing.T) {
	svc := &mockService{status: model.Status{Loaded: true}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body types.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Status != "healthy" || !body.ModelLoaded || body.Timestamp <= 0 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGPUStatus(t *testing.T) {
	used, total := 1024.0, 8192.0
	svc := &mockService{status: model.Status{
		Loaded:      true,
		State:       model.StateLoaded,
		Active:      1,
		IdleTimeout: 600 * time.Second,
		Loads:       2,
		Device:      &model.DeviceInfo{Name: "RTX", Count: 1, MemoryUsedMB: &used, MemoryTotalMB: &total},
	}}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gpu/status", nil))
	var body types.GPUStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !body.GPUAvailable || body.GPUName != "RTX" || body.MemoryUsedMB == nil || *body.MemoryUsedMB != 1024 || body.State != "loaded" || body.IdleTimeoutSeconds != 600 {
		t.Fatalf("unexpected body: %+v", body)
	}

	svc.status = model.Status{State: model.StateUnloaded}
	w = httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gpu/status", nil))
	if strings.Contains(w.Body.String(), "memory_used_mb") || strings.Contains(w.Body.String(), "gpu_name") {
		t.Fatalf("device fields should be omitted: %s", w.Body.String())
	}
}

func TestOffload(t *testing.T) {
	svc := &mockService{}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/gpu/offload?force=1", nil))
	if w.Code != http.StatusOK || !svc.gotForce {
		t.Fatalf("status=%d force=%v", w.Code, svc.gotForce)
	}
	var body types.OffloadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "success" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestOffloadBusy(t *testing.T) {
	svc := &mockService{releaseErr: io.ErrUnexpectedEOF}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/gpu/offload", nil))
	if w.Code != http.StatusServiceUnavailable || svc.gotForce {
		t.Fatalf("status=%d force=%v", w.Code, svc.gotForce)
	}
	var body types.OffloadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "error" || body.Message == "" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestModelInfo(t *testing.T) {
	svc := &mockService{}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	var body types.ModelInfoResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "not_loaded" {
		t.Fatalf("unexpected body: %+v", body)
	}
	svc.info = model.Info{Loaded: true, Backend: "openai-subprocess", Model: "m", Device: "RTX", LoadedAt: time.Unix(1700000000, 0)}
	w = httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/model/info", nil))
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "loaded" || body.Backend != "openai-subprocess" || body.LoadedAtUnix != 1700000000 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestJobs(t *testing.T) {
	now := time.Now()
	svc := &mockService{records: map[string]jobstore.Record{
		"j1": {ID: "j1", DocName: "doc", Task: types.TaskParse, Status: types.JobCompleted, CreatedAt: now, UpdatedAt: now},
	}}
	mux := NewMux(svc)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/j1", nil))
	var one types.JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &one); err != nil || one.Status != "completed" || !one.Done || one.Task != "full-parse" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs?limit=5", nil))
	var all types.JobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil || len(all.Jobs) != 1 {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs?limit=-1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestStaticServesArchive(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "doc_parsed_1.zip"), []byte("PK\x03\x04"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := &mockService{archiveDir: dir}
	mux := NewMux(svc)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/doc_parsed_1.zip", nil))
	if w.Code != http.StatusOK || w.Body.String() != "PK\x03\x04" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "doc_parsed_1.zip") {
		t.Fatalf("content-disposition=%q", cd)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/missing.zip", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRootRedirectsToDemo(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/demo" {
		t.Fatalf("status=%d location=%q", w.Code, w.Header().Get("Location"))
	}
}

func TestReadyz(t *testing.T) {
	svc := &mockService{ready: true}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	svc.ready = false
	w = httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	SetMaxBodyBytes(1024)
	defer SetMaxBodyBytes(0)
	svc := &mockService{}
	w := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(w, multipartRequest(t, "/parse", "big.pdf", strings.Repeat("a", 4096), nil))
	if w.Code != http.StatusBadRequest || svc.submitted != 0 {
		t.Fatalf("status=%d submitted=%d", w.Code, svc.submitted)
	}
}
