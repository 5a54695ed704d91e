//go:build !tesseract

package model

import "context"

// TesseractLoader is unavailable without the tesseract build tag.
type TesseractLoader struct {
	Languages []string
}

func (l TesseractLoader) Load(ctx context.Context) (Backend, error) {
	return nil, ErrDependencyUnavailable("tesseract backend not built; rebuild with -tags tesseract")
}
