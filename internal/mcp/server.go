// Package mcp serves the recognition tools over the Model Context Protocol.
// The go-sdk server owns the JSON-RPC session; this package registers the
// tools, validates their arguments and shapes their results.
package mcp

import (
	"context"
	"encoding/json"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"ocrd/internal/job"
	"ocrd/internal/model"
)

const instructions = "Document recognition tools. File paths refer to the server's filesystem."

// Service is the part of the application the tools call.
type Service interface {
	Submit(ctx context.Context, sub job.Submission) job.Result
	ModelStatus(ctx context.Context) model.Status
	ModelInfo(ctx context.Context) model.Info
	ReleaseModel(ctx context.Context, force bool) error
}

// Server exposes the built-in tools on an MCP server.
type Server struct {
	svc Service
	log zerolog.Logger
	srv *gomcp.Server
}

// New returns a Server exposing the built-in tools. log must not write to
// stdout.
func New(svc Service, version string, log zerolog.Logger) *Server {
	s := &Server{svc: svc, log: log.With().Str("component", "mcp").Logger()}
	s.srv = gomcp.NewServer(&gomcp.Implementation{Name: "ocrd", Version: version}, &gomcp.ServerOptions{
		Instructions: instructions,
	})
	for _, t := range builtinTools() {
		s.srv.AddTool(t.desc, s.handler(t))
	}
	return s
}

// Run serves one session over t until the peer disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t gomcp.Transport) error {
	s.log.Info().Msg("mcp session start")
	err := s.srv.Run(ctx, t)
	s.log.Info().Err(err).Msg("mcp session end")
	return err
}

// Connect attaches the server to a single transport without blocking.
func (s *Server) Connect(ctx context.Context, t gomcp.Transport) (*gomcp.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// handler validates the raw arguments against the tool schema before the
// tool runs. Invalid arguments are a protocol error; failures inside the tool
// are reported in the result with isError set.
func (s *Server) handler(t tool) gomcp.ToolHandler {
	return func(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		args, err := validateArgs(t.schema, req.Params.Arguments)
		if err != nil {
			s.log.Debug().Str("tool", t.desc.Name).Err(err).Msg("invalid arguments")
			return nil, invalidParams(err)
		}
		s.log.Info().Str("tool", t.desc.Name).Msg("tool call")
		out := t.call(ctx, s, args)
		text, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return &gomcp.CallToolResult{
			Content:           []gomcp.Content{&gomcp.TextContent{Text: string(text)}},
			StructuredContent: out,
			IsError:           out["status"] == "error",
		}, nil
	}
}
