package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"ocrd/internal/common/fsutil"
	"ocrd/internal/job"
	"ocrd/internal/model"
	"ocrd/pkg/types"
)

type tool struct {
	desc   *gomcp.Tool
	schema *jsonschema.Schema
	call   func(ctx context.Context, s *Server, args map[string]any) map[string]any
}

func newTool(name, description string, schemaMap map[string]any, call func(context.Context, *Server, map[string]any) map[string]any) tool {
	schema, err := compileSchema(name, schemaMap)
	if err != nil {
		panic(fmt.Sprintf("tool %s: %v", name, err))
	}
	return tool{
		desc:   &gomcp.Tool{Name: name, Description: description, InputSchema: schemaMap},
		schema: schema,
		call:   call,
	}
}

func builtinTools() []tool {
	return []tool{
		newTool("parse_document",
			"Parse a PDF or image into markdown with page images and structure JSON, packaged as a zip archive.",
			objectSchema(map[string]any{
				"file_path":   filePathProp,
				"split_pages": map[string]any{"type": "boolean", "default": false, "description": "Produce one markdown file per page"},
				"output_dir":  map[string]any{"type": "string", "description": "Directory to write the archive to"},
			}, "file_path"),
			parseDocument),
		newTool("extract_text",
			"Recognize the plain text of a document.",
			objectSchema(map[string]any{"file_path": filePathProp}, "file_path"),
			recognizeTool(types.TaskText)),
		newTool("extract_formula",
			"Recognize mathematical formulas in a document as LaTeX.",
			objectSchema(map[string]any{"file_path": filePathProp}, "file_path"),
			recognizeTool(types.TaskFormula)),
		newTool("extract_table",
			"Recognize tables in a document as HTML or LaTeX.",
			objectSchema(map[string]any{
				"file_path": filePathProp,
				"format":    map[string]any{"type": "string", "enum": []any{"html", "latex"}, "default": "html"},
			}, "file_path"),
			recognizeTool(types.TaskTable)),
		newTool("get_gpu_status",
			"Report whether the model is loaded and how much device memory is in use.",
			objectSchema(map[string]any{}),
			gpuStatus),
		newTool("release_gpu_memory",
			"Unload the model to free device memory. It is loaded again on the next request.",
			objectSchema(map[string]any{
				"force": map[string]any{"type": "boolean", "default": false, "description": "Wait for running jobs instead of refusing"},
			}),
			releaseMemory),
		newTool("get_model_info",
			"Describe the loaded model and its device.",
			objectSchema(map[string]any{}),
			modelInfo),
	}
}

func failure(kind, msg string) map[string]any {
	out := map[string]any{"status": "error", "message": msg}
	if kind != "" {
		out["error_kind"] = kind
	}
	return out
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolean(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// submitFile opens path and runs it through the executor.
func submitFile(ctx context.Context, s *Server, path string, sub job.Submission) (job.Result, map[string]any) {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return job.Result{}, failure(string(job.KindValidation), err.Error())
	}
	if !fsutil.PathExists(p) {
		return job.Result{}, failure(string(job.KindValidation), "file not found: "+path)
	}
	f, err := os.Open(p)
	if err != nil {
		return job.Result{}, failure(string(job.KindValidation), fmt.Sprintf("cannot open %s: %v", path, err))
	}
	defer f.Close()
	sub.Filename = filepath.Base(p)
	sub.Source = f
	res := s.svc.Submit(ctx, sub)
	if !res.Success {
		return res, failure(string(res.ErrorKind), res.Message)
	}
	return res, nil
}

func parseDocument(ctx context.Context, s *Server, args map[string]any) map[string]any {
	sub := job.Submission{Task: types.TaskParse, Split: boolean(args, "split_pages")}
	if dir := str(args, "output_dir"); dir != "" {
		d, err := fsutil.ExpandHome(dir)
		if err != nil {
			return failure(string(job.KindValidation), err.Error())
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return failure(string(job.KindIO), fmt.Sprintf("create output_dir: %v", err))
		}
		sub.ArchiveDir = d
	}
	res, fail := submitFile(ctx, s, str(args, "file_path"), sub)
	if fail != nil {
		return fail
	}
	out := map[string]any{
		"status":     "success",
		"message":    res.Message,
		"job_id":     res.JobID,
		"output_dir": res.OutputDir,
		"files":      res.Files,
		"archive":    res.Archive,
		"pages":      res.Pages,
	}
	if len(res.FailedPages) > 0 {
		out["failed_pages"] = res.FailedPages
		out["error_kind"] = string(res.ErrorKind)
	}
	return out
}

func recognizeTool(task types.TaskKind) func(context.Context, *Server, map[string]any) map[string]any {
	return func(ctx context.Context, s *Server, args map[string]any) map[string]any {
		res, fail := submitFile(ctx, s, str(args, "file_path"), job.Submission{Task: task, TableFormat: str(args, "format")})
		if fail != nil {
			return fail
		}
		return map[string]any{
			"status":    "success",
			"task_type": string(task),
			"content":   res.Content,
			"pages":     res.Pages,
			"message":   res.Message,
		}
	}
}

func gpuStatus(ctx context.Context, s *Server, _ map[string]any) map[string]any {
	st := s.svc.ModelStatus(ctx)
	out := map[string]any{
		"status":               "success",
		"model_loaded":         st.Loaded,
		"state":                string(st.State),
		"active":               st.Active,
		"idle_timeout_seconds": int64(st.IdleTimeout / time.Second),
		"gpu_available":        st.Device != nil,
	}
	if d := st.Device; d != nil {
		out["gpu_name"] = d.Name
		if d.MemoryUsedMB != nil {
			out["memory_used_mb"] = *d.MemoryUsedMB
		}
		if d.MemoryTotalMB != nil {
			out["memory_total_mb"] = *d.MemoryTotalMB
		}
	}
	return out
}

func releaseMemory(ctx context.Context, s *Server, args map[string]any) map[string]any {
	if err := s.svc.ReleaseModel(ctx, boolean(args, "force")); err != nil {
		kind := ""
		if model.IsBusy(err) {
			kind = "busy"
		}
		return failure(kind, err.Error())
	}
	return map[string]any{"status": "success", "message": "GPU memory released"}
}

func modelInfo(ctx context.Context, s *Server, _ map[string]any) map[string]any {
	info := s.svc.ModelInfo(ctx)
	if !info.Loaded {
		return map[string]any{"status": "success", "loaded": false, "message": "model is loaded on first use"}
	}
	return map[string]any{
		"status":    "success",
		"loaded":    true,
		"backend":   info.Backend,
		"model":     info.Model,
		"device":    info.Device,
		"loaded_at": info.LoadedAt.UTC().Format(time.RFC3339),
	}
}
