// Package render turns a staged document into page images for recognition.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"ocrd/internal/common/execx"
	"ocrd/pkg/types"
)

// Page is one rendered page image.
type Page struct {
	Index  int
	Path   string
	Width  int
	Height int
}

// Renderer rasterizes a document into page images under workDir.
type Renderer interface {
	Render(ctx context.Context, src string, kind types.DocKind, workDir string) ([]Page, error)
}

// Config holds tunables for FileRenderer.
type Config struct {
	PdftoppmBin string
	DPI         int
	// MaxPages caps pages rendered from a PDF; 0 means no cap.
	MaxPages int
	// MaxImageSide downscales images whose longest side exceeds it; 0 disables.
	MaxImageSide int
	Runner       execx.Runner
	Log          zerolog.Logger
}

// FileRenderer renders PDFs with pdftoppm and images in-process.
type FileRenderer struct {
	cfg Config
}

// New returns a FileRenderer with defaults applied.
func New(cfg Config) *FileRenderer {
	if cfg.PdftoppmBin == "" {
		cfg.PdftoppmBin = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.Runner == nil {
		cfg.Runner = execx.ExecRunner{Log: cfg.Log}
	}
	return &FileRenderer{cfg: cfg}
}

// unreadableError marks an input that passed extension and signature checks
// but could not be decoded.
type unreadableError struct{ msg string }

func (e unreadableError) Error() string { return "unreadable document: " + e.msg }

// IsUnreadable reports whether err means the document itself is bad.
func IsUnreadable(err error) bool {
	var ue unreadableError
	return errors.As(err, &ue)
}

// toolMissingError means the rasterizer binary is not installed.
type toolMissingError struct{ tool string }

func (e toolMissingError) Error() string { return e.tool + " not found in PATH" }

// IsToolMissing reports whether err is a missing external tool.
func IsToolMissing(err error) bool {
	var te toolMissingError
	return errors.As(err, &te)
}

func (r *FileRenderer) Render(ctx context.Context, src string, kind types.DocKind, workDir string) ([]Page, error) {
	switch kind {
	case types.DocPDF:
		return r.renderPDF(ctx, src, workDir)
	case types.DocImage:
		p, err := r.renderImage(src, workDir)
		if err != nil {
			return nil, err
		}
		return []Page{p}, nil
	}
	return nil, fmt.Errorf("unsupported document kind %q", kind)
}

func (r *FileRenderer) renderPDF(ctx context.Context, src, workDir string) ([]Page, error) {
	prefix := filepath.Join(workDir, "page")
	args := []string{"-r", strconv.Itoa(r.cfg.DPI), "-png"}
	if r.cfg.MaxPages > 0 {
		args = append(args, "-l", strconv.Itoa(r.cfg.MaxPages))
	}
	args = append(args, src, prefix)
	_, errb, err := r.cfg.Runner.Run(ctx, r.cfg.PdftoppmBin, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, toolMissingError{tool: r.cfg.PdftoppmBin}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unreadableError{msg: execx.Truncate(strings.TrimSpace(string(errb)), 512)}
	}
	// pdftoppm names pages prefix-1.png or prefix-01.png depending on page count
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return nil, unreadableError{msg: "no pages rendered"}
	}
	sort.Slice(matches, func(i, j int) bool { return pageNumber(matches[i]) < pageNumber(matches[j]) })
	if r.cfg.MaxPages > 0 && len(matches) > r.cfg.MaxPages {
		matches = matches[:r.cfg.MaxPages]
	}
	pages := make([]Page, 0, len(matches))
	for i, m := range matches {
		p := Page{Index: i, Path: m}
		if f, err := os.Open(m); err == nil {
			if c, _, err := image.DecodeConfig(f); err == nil {
				p.Width, p.Height = c.Width, c.Height
			}
			f.Close()
		}
		pages = append(pages, p)
	}
	r.cfg.Log.Debug().Str("src", filepath.Base(src)).Int("pages", len(pages)).Msg("pdf rendered")
	return pages, nil
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	i := strings.LastIndex(base, "-")
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 1 << 30
	}
	return n
}

func (r *FileRenderer) renderImage(src, workDir string) (Page, error) {
	f, err := os.Open(src)
	if err != nil {
		return Page{}, err
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Page{}, unreadableError{msg: err.Error()}
	}
	limit := r.cfg.MaxImageSide
	if limit <= 0 || (cfg.Width <= limit && cfg.Height <= limit) {
		return Page{Index: 0, Path: src, Width: cfg.Width, Height: cfg.Height}, nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return Page{}, err
	}
	img, _, err := image.Decode(f)
	if err != nil {
		return Page{}, unreadableError{msg: err.Error()}
	}
	w, h := scaledSize(cfg.Width, cfg.Height, limit)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	out := filepath.Join(workDir, "page-0.png")
	of, err := os.Create(out)
	if err != nil {
		return Page{}, err
	}
	if err := png.Encode(of, dst); err != nil {
		of.Close()
		return Page{}, err
	}
	if err := of.Close(); err != nil {
		return Page{}, err
	}
	r.cfg.Log.Debug().Int("from_w", cfg.Width).Int("from_h", cfg.Height).Int("w", w).Int("h", h).Msg("image downscaled")
	return Page{Index: 0, Path: out, Width: w, Height: h}, nil
}

// scaledSize fits w x h into a side x side box keeping the aspect ratio.
func scaledSize(w, h, side int) (int, int) {
	if w >= h {
		nh := h * side / w
		if nh < 1 {
			nh = 1
		}
		return side, nh
	}
	nw := w * side / h
	if nw < 1 {
		nw = 1
	}
	return nw, side
}
