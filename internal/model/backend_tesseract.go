//go:build tesseract

package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractLoader provides a CPU-only fallback backend. It produces plain
// text regardless of the instruction, so formula and table output is
// best-effort.
type TesseractLoader struct {
	Languages []string
}

func (l TesseractLoader) Load(ctx context.Context) (Backend, error) {
	langs := l.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &tesseractBackend{langs: langs}, nil
}

type tesseractBackend struct {
	langs []string
}

func (b *tesseractBackend) Name() string  { return "tesseract" }
func (b *tesseractBackend) Model() string { return "tesseract-" + strings.Join(b.langs, "+") }
func (b *tesseractBackend) Close() error  { return nil }

func (b *tesseractBackend) BatchInference(ctx context.Context, pages []Page, instructions []string) ([]string, error) {
	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage(b.langs...); err != nil {
		return nil, fmt.Errorf("tesseract language: %w", err)
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := client.SetImage(p.Path); err != nil {
			return nil, fmt.Errorf("page %d: %w", p.Index, err)
		}
		text, err := client.Text()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", p.Index, err)
		}
		out[i] = strings.TrimSpace(text)
	}
	return out, nil
}
