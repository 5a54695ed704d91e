package model

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteConfig points at an already running OpenAI-compatible model server.
type RemoteConfig struct {
	BaseURL        string
	ModelName      string
	MaxTokens      int
	Concurrency    int
	RequestTimeout time.Duration
}

// RemoteLoader "loads" by checking that the server is reachable. Release only
// drops the handle; device memory belongs to the remote process.
type RemoteLoader struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

// NewRemoteLoader constructs a RemoteLoader.
func NewRemoteLoader(cfg RemoteConfig) *RemoteLoader {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	// Timeout=0: every call carries its own context deadline.
	return &RemoteLoader{cfg: cfg, httpClient: &http.Client{Timeout: 0}}
}

func (l *RemoteLoader) Load(ctx context.Context) (Backend, error) {
	if l.cfg.BaseURL == "" {
		return nil, ErrDependencyUnavailable("remote model server base_url is empty")
	}
	if !healthy(ctx, l.httpClient, l.cfg.BaseURL, 5*time.Second) {
		return nil, fmt.Errorf("model server not reachable: %s", l.cfg.BaseURL)
	}
	return &openAIBackend{
		name:        "openai-remote",
		baseURL:     l.cfg.BaseURL,
		model:       l.cfg.ModelName,
		maxTokens:   l.cfg.MaxTokens,
		concurrency: l.cfg.Concurrency,
		timeout:     l.cfg.RequestTimeout,
		httpClient:  l.httpClient,
	}, nil
}
