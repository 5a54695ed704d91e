package httpapi

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ocrd/internal/job"
	"ocrd/internal/jobstore"
	"ocrd/internal/model"
	"ocrd/pkg/types"
)

type handlers struct {
	svc Service
}

// upload reads the multipart "file" field. The caller must close the file
// and remove the form.
func upload(w http.ResponseWriter, r *http.Request) (multipart.File, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("multipart field \"file\" is required")
	}
	uploadBytes.Observe(float64(hdr.Size))
	return f, hdr.Filename, nil
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

// recognize handles POST /ocr/{text,formula,table}.
func (h *handlers) recognize(w http.ResponseWriter, r *http.Request) {
	task := types.TaskKind(chi.URLParam(r, "task"))
	if task != types.TaskText && task != types.TaskFormula && task != types.TaskTable {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown task %q", task))
		return
	}
	defer cleanupForm(r)
	f, name, err := upload(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, types.TaskResponse{TaskType: string(task), Message: err.Error()})
		return
	}
	defer f.Close()

	res := h.svc.Submit(r.Context(), job.Submission{
		Filename:    name,
		Source:      f,
		Task:        task,
		TableFormat: r.FormValue("format"),
	})
	resp := types.TaskResponse{
		Success:  res.Success,
		TaskType: string(task),
		Content:  res.Content,
		Message:  res.Message,
		Pages:    res.Pages,
	}
	if !res.Success {
		resp.Content = ""
	}
	writeJSON(w, statusFor(res), resp)
}

// parse handles POST /parse and /parse/split.
func (h *handlers) parse(split bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer cleanupForm(r)
		f, name, err := upload(w, r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		defer f.Close()

		res := h.svc.Submit(r.Context(), job.Submission{Filename: name, Source: f, Task: types.TaskParse, Split: split})
		if !res.Success {
			writeJSONError(w, statusFor(res), res.Message)
			return
		}
		writeJSON(w, http.StatusOK, parseResponse(res))
	}
}

func parseResponse(res job.Result) types.ParseResponse {
	out := types.ParseResponse{
		Success:     true,
		Message:     res.Message,
		OutputDir:   res.OutputDir,
		Files:       res.Files,
		Pages:       res.Pages,
		FailedPages: res.FailedPages,
		ErrorKind:   string(res.ErrorKind),
		JobID:       res.JobID,
	}
	if res.ArchiveName != "" {
		out.DownloadURL = "/static/" + res.ArchiveName
	}
	return out
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.svc.ModelStatus(r.Context()).Loaded,
		Timestamp:   float64(now.UnixNano()) / 1e9,
	})
}

func (h *handlers) gpuStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gpuStatus(h.svc.ModelStatus(r.Context())))
}

func gpuStatus(st model.Status) types.GPUStatus {
	out := types.GPUStatus{
		ModelLoaded:        st.Loaded,
		State:              string(st.State),
		Active:             st.Active,
		IdleTimeoutSeconds: int64(st.IdleTimeout / time.Second),
		LoadsTotal:         st.Loads,
		ReleasesTotal:      st.Releases,
		LastError:          st.LastError,
	}
	if !st.LastUse.IsZero() {
		out.LastUseUnix = st.LastUse.Unix()
	}
	if d := st.Device; d != nil {
		out.GPUAvailable = true
		out.GPUName = d.Name
		out.GPUCount = d.Count
		out.MemoryUsedMB = d.MemoryUsedMB
		out.MemoryTotalMB = d.MemoryTotalMB
	}
	return out
}

// offload handles POST /gpu/offload. Without ?force=1 a model in use is left
// alone and the call answers 503.
func (h *handlers) offload(w http.ResponseWriter, r *http.Request) {
	force := truthy(r.URL.Query().Get("force"))
	if err := h.svc.ReleaseModel(r.Context(), force); err != nil {
		if model.IsBusy(err) {
			IncrementRefusal("model_busy")
		}
		writeJSON(w, http.StatusServiceUnavailable, types.OffloadResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, types.OffloadResponse{Status: "success", Message: "GPU memory released"})
}

func (h *handlers) modelInfo(w http.ResponseWriter, r *http.Request) {
	info := h.svc.ModelInfo(r.Context())
	if !info.Loaded {
		writeJSON(w, http.StatusOK, types.ModelInfoResponse{Status: "not_loaded", Message: "model is loaded on first use"})
		return
	}
	writeJSON(w, http.StatusOK, types.ModelInfoResponse{
		Status:       "loaded",
		Backend:      info.Backend,
		Model:        info.Model,
		Device:       info.Device,
		LoadedAtUnix: info.LoadedAt.Unix(),
	})
}

func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := h.svc.Jobs(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := types.JobsResponse{Jobs: make([]types.JobResponse, 0, len(recs))}
	for _, rec := range recs {
		out.Jobs = append(out.Jobs, jobResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) job(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Job(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, jobstore.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(rec))
}

func jobResponse(rec jobstore.Record) types.JobResponse {
	return types.JobResponse{
		ID:          rec.ID,
		DocName:     rec.DocName,
		Task:        string(rec.Task),
		Split:       rec.Split,
		Status:      string(rec.Status),
		Done:        rec.Status.Terminal(),
		ErrorKind:   rec.ErrorKind,
		Message:     rec.Message,
		Pages:       rec.Pages,
		FailedPages: rec.FailedPages,
		Archive:     rec.Archive,
		CreatedUnix: rec.CreatedAt.Unix(),
		UpdatedUnix: rec.UpdatedAt.Unix(),
	}
}

// static serves archives produced by parse jobs.
func (h *handlers) static(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := h.svc.ArchivePath(name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(p)))
	http.ServeFile(w, r, p)
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
