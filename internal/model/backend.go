package model

import "context"

// Page is one rendered page image handed to the model.
type Page struct {
	Index int
	Path  string
}

// Backend is a loaded model instance.
type Backend interface {
	// Name identifies the runtime (e.g. "openai-subprocess", "tesseract").
	Name() string
	// Model is the model identifier served by the runtime.
	Model() string
	// BatchInference runs one instruction per page and returns one response
	// per page, in input order.
	BatchInference(ctx context.Context, pages []Page, instructions []string) ([]string, error)
	// Close releases the model and its device memory.
	Close() error
}

// Loader produces a Backend. Load may be slow; it is called at most once per
// loaded period by Resource.
type Loader interface {
	Load(ctx context.Context) (Backend, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Backend, error)

func (f LoaderFunc) Load(ctx context.Context) (Backend, error) { return f(ctx) }
