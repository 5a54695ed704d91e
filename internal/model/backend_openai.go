package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// chatRequest is the OpenAI-compatible chat completion payload used by
// vision-language model servers (vLLM, LMDeploy, llama-server).
type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// openAIBackend talks to a model server exposing /v1/chat/completions.
type openAIBackend struct {
	name        string
	baseURL     string
	model       string
	maxTokens   int
	concurrency int
	timeout     time.Duration
	httpClient  *http.Client
	onClose     func() error
}

func (b *openAIBackend) Name() string  { return b.name }
func (b *openAIBackend) Model() string { return b.model }

func (b *openAIBackend) Close() error {
	if b.onClose != nil {
		return b.onClose()
	}
	return nil
}

// BatchInference sends one request per page with bounded concurrency and
// returns responses in input order. The first failure cancels the remaining
// requests.
func (b *openAIBackend) BatchInference(ctx context.Context, pages []Page, instructions []string) ([]string, error) {
	if len(pages) != len(instructions) {
		return nil, fmt.Errorf("batch mismatch: %d pages, %d instructions", len(pages), len(instructions))
	}
	out := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	limit := b.concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range pages {
		i := i
		g.Go(func() error {
			s, err := b.complete(gctx, pages[i], instructions[i])
			if err != nil {
				return fmt.Errorf("page %d: %w", pages[i].Index, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *openAIBackend) complete(ctx context.Context, p Page, instruction string) (string, error) {
	dataURI, err := imageDataURI(p.Path)
	if err != nil {
		return "", err
	}
	payload := chatRequest{
		Model: b.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatPart{
				{Type: "image_url", ImageURL: &chatImageURL{URL: dataURI}},
				{Type: "text", Text: instruction},
			},
		}},
		MaxTokens:   b.maxTokens,
		Temperature: 0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", backendGoneError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(string(msg))
		if IsOutOfMemory(errors.New(text)) {
			return "", ErrOutOfMemory(text)
		}
		return "", fmt.Errorf("model server http error: %s: %s", resp.Status, text)
	}
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("model server returned no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

func imageDataURI(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = http.DetectContentType(raw)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// healthy reports whether the server at baseURL answers /v1/models.
func healthy(ctx context.Context, cli *http.Client, baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := cli.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
