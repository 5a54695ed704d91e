package job

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ocrd/pkg/types"
)

var extKinds = map[string]types.DocKind{
	".pdf":  types.DocPDF,
	".jpg":  types.DocImage,
	".jpeg": types.DocImage,
	".png":  types.DocImage,
}

// classify derives the document kind from the file extension.
func classify(filename string) (types.DocKind, string, error) {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "" || base == "." || base == "/" {
		return "", "", validationErr("missing filename")
	}
	ext := strings.ToLower(filepath.Ext(base))
	kind, ok := extKinds[ext]
	if !ok {
		if ext == "" {
			return "", "", validationErr("unsupported file type: no extension")
		}
		return "", "", validationErr("unsupported file type: %s", ext)
	}
	return kind, ext, nil
}

// docStem returns the client file name without directory and extension.
func docStem(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// stage copies src into dir as input<ext>, refusing more than limit bytes
// (limit <= 0 disables the check).
func stage(src io.Reader, dir, ext string, limit int64) (string, error) {
	if src == nil {
		return "", validationErr("missing file content")
	}
	path := filepath.Join(dir, "input"+ext)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", kindErr(KindIO, "stage input", err)
	}
	r := src
	if limit > 0 {
		r = io.LimitReader(src, limit+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", kindErr(KindIO, "stage input", err)
	}
	if limit > 0 && n > limit {
		return "", validationErr("file exceeds the %d MB upload limit", limit>>20)
	}
	if n == 0 {
		return "", validationErr("empty file")
	}
	return path, nil
}

var (
	sigPDF  = []byte("%PDF-")
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
)

// sniff confirms the staged content matches the kind its extension claims.
func sniff(path string, kind types.DocKind) error {
	f, err := os.Open(path)
	if err != nil {
		return kindErr(KindIO, "read staged input", err)
	}
	defer f.Close()
	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return kindErr(KindIO, "read staged input", err)
	}
	head = head[:n]
	switch kind {
	case types.DocPDF:
		// some producers put junk before the header; the format allows 1024 bytes
		if bytes.Contains(head, sigPDF) {
			return nil
		}
		return validationErr("file content is not a PDF")
	case types.DocImage:
		if bytes.HasPrefix(head, sigJPEG) || bytes.HasPrefix(head, sigPNG) {
			return nil
		}
		return validationErr("file content is not a JPEG or PNG image")
	}
	return validationErr("unsupported document kind %q", kind)
}
