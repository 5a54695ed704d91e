package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"ocrd/internal/job"
	"ocrd/internal/model"
	"ocrd/pkg/types"
)

type fakeService struct {
	mu         sync.Mutex
	result     job.Result
	status     model.Status
	info       model.Info
	releaseErr error
	subs       []job.Submission
	bodies     []string
	force      bool
}

func (f *fakeService) Submit(ctx context.Context, sub job.Submission) job.Result {
	b, _ := io.ReadAll(sub.Source)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	f.bodies = append(f.bodies, string(b))
	return f.result
}
func (f *fakeService) ModelStatus(ctx context.Context) model.Status { return f.status }
func (f *fakeService) ModelInfo(ctx context.Context) model.Info     { return f.info }
func (f *fakeService) ReleaseModel(ctx context.Context, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.force = force
	return f.releaseErr
}

// connect starts a server for svc and returns a client session attached to
// it over an in-memory transport.
func connect(t *testing.T, svc Service) *gomcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := gomcp.NewInMemoryTransports()
	ss, err := New(svc, "test", zerolog.Nop()).Connect(ctx, serverT)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func callTool(t *testing.T, cs *gomcp.ClientSession, name string, args any) (*gomcp.CallToolResult, map[string]any) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &gomcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("unexpected content: %+v", res.Content)
	}
	tc, ok := res.Content[0].(*gomcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &body); err != nil {
		t.Fatalf("decode text content: %v", err)
	}
	return res, body
}

func callError(t *testing.T, cs *gomcp.ClientSession, name string, args any) *jsonrpc.Error {
	t.Helper()
	_, err := cs.CallTool(context.Background(), &gomcp.CallToolParams{Name: name, Arguments: args})
	var we *jsonrpc.Error
	if !errors.As(err, &we) {
		t.Fatalf("call %s: expected a JSON-RPC error, got %v", name, err)
	}
	return we
}

func TestInitializeListPing(t *testing.T) {
	cs := connect(t, &fakeService{})
	ir := cs.InitializeResult()
	if ir == nil || ir.ServerInfo == nil || ir.ServerInfo.Name != "ocrd" || ir.Instructions != instructions {
		t.Fatalf("initialize: %+v", ir)
	}
	if ir.Capabilities == nil || ir.Capabilities.Tools == nil {
		t.Fatalf("tools capability not advertised: %+v", ir.Capabilities)
	}

	list, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	want := map[string]bool{"parse_document": true, "extract_text": true, "extract_formula": true, "extract_table": true, "get_gpu_status": true, "release_gpu_memory": true, "get_model_info": true}
	if len(list.Tools) != len(want) {
		t.Fatalf("got %d tools", len(list.Tools))
	}
	for _, tl := range list.Tools {
		schema, _ := tl.InputSchema.(map[string]any)
		if !want[tl.Name] || schema["type"] != "object" || tl.Description == "" {
			t.Fatalf("unexpected tool %+v", tl)
		}
	}
	if err := cs.Ping(context.Background(), nil); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestUnknownTool(t *testing.T) {
	cs := connect(t, &fakeService{})
	if we := callError(t, cs, "nope", nil); we.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("unknown tool: %+v", we)
	}
}

func TestArgumentsValidatedAgainstSchema(t *testing.T) {
	svc := &fakeService{}
	cs := connect(t, svc)
	cases := []struct {
		name string
		args map[string]any
	}{
		{"extract_text", map[string]any{}},
		{"extract_table", map[string]any{"file_path": "a.png", "format": "csv"}},
		{"parse_document", map[string]any{"file_path": "a.png", "split_pages": "yes"}},
		{"get_gpu_status", map[string]any{"verbose": true}},
	}
	for _, c := range cases {
		if we := callError(t, cs, c.name, c.args); we.Code != jsonrpc.CodeInvalidParams {
			t.Fatalf("%s %v: expected invalid params, got %+v", c.name, c.args, we)
		}
	}
	if len(svc.subs) != 0 {
		t.Fatalf("invalid calls must not reach the service")
	}
}

func TestParseDocument(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	svc := &fakeService{result: job.Result{
		Success:     true,
		JobID:       "j1",
		Message:     "Parsing completed",
		OutputDir:   "report_j1",
		Files:       []string{"report.md", "report_middle.json"},
		Archive:     filepath.Join(outDir, "report_parsed_1.zip"),
		Pages:       2,
		FailedPages: []int{1},
		ErrorKind:   job.KindPartialFailure,
	}}
	cs := connect(t, svc)
	res, body := callTool(t, cs, "parse_document", map[string]any{"file_path": src, "split_pages": true, "output_dir": outDir})
	if res.IsError || body["status"] != "success" || body["archive"] != filepath.Join(outDir, "report_parsed_1.zip") {
		t.Fatalf("unexpected result: %+v", body)
	}
	if body["error_kind"] != "partial_failure" {
		t.Fatalf("partial failure not reported: %+v", body)
	}
	structured, ok := res.StructuredContent.(map[string]any)
	if !ok || structured["job_id"] != "j1" {
		t.Fatalf("structured content missing: %+v", res.StructuredContent)
	}
	sub := svc.subs[0]
	if sub.Task != types.TaskParse || !sub.Split || sub.ArchiveDir != outDir || sub.Filename != "report.pdf" || svc.bodies[0] != "%PDF-1.4" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if fi, err := os.Stat(outDir); err != nil || !fi.IsDir() {
		t.Fatalf("output_dir not created: %v", err)
	}
}

func TestExtractTableAndFailures(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "t.png")
	_ = os.WriteFile(src, []byte("png"), 0o644)
	svc := &fakeService{result: job.Result{Success: true, Content: `\begin{tabular}`, Pages: 1}}
	cs := connect(t, svc)
	_, body := callTool(t, cs, "extract_table", map[string]any{"file_path": src, "format": "latex"})
	if body["content"] != `\begin{tabular}` || svc.subs[0].TableFormat != "latex" || svc.subs[0].Task != types.TaskTable {
		t.Fatalf("unexpected: %+v %+v", body, svc.subs[0])
	}

	svc = &fakeService{result: job.Result{ErrorKind: job.KindModelUnavailable, Message: "model unavailable: boom"}}
	cs = connect(t, svc)
	res, body := callTool(t, cs, "extract_formula", map[string]any{"file_path": src})
	if !res.IsError || body["status"] != "error" || body["error_kind"] != "model_unavailable" {
		t.Fatalf("unexpected failure result: %+v", body)
	}
	res, body = callTool(t, cs, "extract_text", map[string]any{"file_path": filepath.Join(dir, "missing.png")})
	if !res.IsError || body["error_kind"] != "validation" {
		t.Fatalf("missing file should be a validation error: %+v", body)
	}
}

func TestModelTools(t *testing.T) {
	used := 512.0
	svc := &fakeService{
		status: model.Status{Loaded: true, State: model.StateLoaded, IdleTimeout: time.Minute, Device: &model.DeviceInfo{Name: "RTX", MemoryUsedMB: &used}},
		info:   model.Info{Loaded: true, Backend: "stub", Model: "stub-model", Device: "RTX", LoadedAt: time.Unix(0, 0)},
	}
	cs := connect(t, svc)
	_, st := callTool(t, cs, "get_gpu_status", nil)
	if st["model_loaded"] != true || st["gpu_name"] != "RTX" || st["memory_used_mb"] != 512.0 || st["idle_timeout_seconds"] != 60.0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if _, ok := st["memory_total_mb"]; ok {
		t.Fatalf("unknown memory should be omitted")
	}
	_, info := callTool(t, cs, "get_model_info", map[string]any{})
	if info["loaded"] != true || info["backend"] != "stub" || info["loaded_at"] != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected info: %+v", info)
	}
	_, rel := callTool(t, cs, "release_gpu_memory", map[string]any{"force": true})
	if rel["status"] != "success" || !svc.force {
		t.Fatalf("unexpected release: %+v force=%v", rel, svc.force)
	}

	svc.releaseErr = errors.New("model busy")
	res, rel := callTool(t, cs, "release_gpu_memory", nil)
	if !res.IsError || rel["status"] != "error" || svc.force {
		t.Fatalf("unexpected release failure: %+v", rel)
	}
}
