// Package artifact writes job outputs to disk and packages them for download.
//
// Layout of a job output directory:
//
//	<outputRoot>/<doc>_<jobID>/
//	    <doc>.md                      full parse, not split
//	    <doc>_middle.json
//	    images/page_<n>.png
//	    page_<n>/<doc>_page_<n>.md    split parse
//	    page_<n>/images/page_<n>.png
//
// Archives are written next to, not inside, the output directory so they
// survive job cleanup.
package artifact

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ocrd/internal/common/fsutil"
)

// Kind classifies a produced file.
type Kind string

const (
	KindMarkup        Kind = "markup"
	KindStructureJSON Kind = "structure-json"
	KindRenderedImage Kind = "rendered-image"
	KindArchive       Kind = "archive"
)

// Artifact is a file produced for a job. Path is relative to the job output
// directory, except for archives where it is absolute.
type Artifact struct {
	Path string
	Kind Kind
}

// PageOutput is the recognized content of one page.
type PageOutput struct {
	Index     int
	Markdown  string
	ImagePath string
}

// archiveEpoch is the modification time stamped on every archive member.
var archiveEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Config holds Packager settings.
type Config struct {
	OutputRoot string
	// Backend is recorded in structure JSON.
	Backend string
	Log     zerolog.Logger
}

// Packager is the only writer of job artifacts.
type Packager struct {
	outputRoot string
	backend    string
	log        zerolog.Logger
	now        func() time.Time
	// nameMu serializes archive name selection.
	nameMu sync.Mutex
}

func New(cfg Config) *Packager {
	return &Packager{outputRoot: cfg.OutputRoot, backend: cfg.Backend, log: cfg.Log, now: time.Now}
}

// JobDir returns the output directory for a job. Including the job ID keeps
// concurrent jobs on same-named documents apart.
func (p *Packager) JobDir(docName, jobID string) string {
	return filepath.Join(p.outputRoot, fsutil.SafeName(docName)+"_"+jobID)
}

// Materialize writes the markup, structure JSON and page images for pages
// into dir. Pages must already be in ascending index order.
func (p *Packager) Materialize(dir, docName string, split bool, pages []PageOutput) ([]Artifact, error) {
	doc := fsutil.SafeName(docName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var out []Artifact
	if split {
		for _, pg := range pages {
			sub := "page_" + strconv.Itoa(pg.Index)
			md := filepath.Join(sub, fmt.Sprintf("%s_page_%d.md", doc, pg.Index))
			if err := writeFile(filepath.Join(dir, md), []byte(pg.Markdown)); err != nil {
				return nil, err
			}
			out = append(out, Artifact{Path: filepath.ToSlash(md), Kind: KindMarkup})
			if a, err := copyPageImage(dir, sub, pg); err != nil {
				return nil, err
			} else if a != nil {
				out = append(out, *a)
			}
		}
		return out, nil
	}

	parts := make([]string, len(pages))
	for i, pg := range pages {
		parts[i] = pg.Markdown
	}
	md := doc + ".md"
	if err := writeFile(filepath.Join(dir, md), []byte(strings.Join(parts, "\n\n"))); err != nil {
		return nil, err
	}
	out = append(out, Artifact{Path: md, Kind: KindMarkup})

	st := BuildStructure(pages, p.backend)
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	js := doc + "_middle.json"
	if err := writeFile(filepath.Join(dir, js), raw); err != nil {
		return nil, err
	}
	out = append(out, Artifact{Path: js, Kind: KindStructureJSON})

	for _, pg := range pages {
		if a, err := copyPageImage(dir, "", pg); err != nil {
			return nil, err
		} else if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func copyPageImage(dir, sub string, pg PageOutput) (*Artifact, error) {
	if pg.ImagePath == "" {
		return nil, nil
	}
	ext := strings.ToLower(filepath.Ext(pg.ImagePath))
	if ext == "" {
		ext = ".png"
	}
	rel := filepath.Join(sub, "images", "page_"+strconv.Itoa(pg.Index)+ext)
	if err := copyFile(pg.ImagePath, filepath.Join(dir, rel)); err != nil {
		return nil, fmt.Errorf("copy page %d image: %w", pg.Index, err)
	}
	return &Artifact{Path: filepath.ToSlash(rel), Kind: KindRenderedImage}, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Files lists regular files under dir as slash-separated relative paths in
// natural order: digit runs compare numerically, so page_2 sorts before
// page_10.
func (p *Packager) Files(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return naturalLess(files[i], files[j]) })
	return files, nil
}

// naturalLess orders strings byte by byte except that runs of digits compare
// by numeric value. Runs equal in value but not in spelling (007 vs 7) order
// the shorter first, so distinct strings never compare equal.
func naturalLess(a, b string) bool {
	for a != "" && b != "" {
		if isDigit(a[0]) && isDigit(b[0]) {
			na, nb := digitRun(a), digitRun(b)
			ta, tb := strings.TrimLeft(na, "0"), strings.TrimLeft(nb, "0")
			if len(ta) != len(tb) {
				return len(ta) < len(tb)
			}
			if ta != tb {
				return ta < tb
			}
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			a, b = a[len(na):], b[len(nb):]
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func digitRun(s string) string {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i]
}

// Archive zips dir into destDir as <doc>_parsed_<epochMillis>.zip. Members
// are exactly Files(dir), in that order, with a fixed timestamp. The archive
// is written under a temporary name and renamed into place.
func (p *Packager) Archive(dir, destDir, docName string) (Artifact, error) {
	files, err := p.Files(dir)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Artifact{}, err
	}
	tmp, err := os.CreateTemp(destDir, ".archive-*.tmp")
	if err != nil {
		return Artifact{}, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := writeZip(tmp, dir, files); err != nil {
		tmp.Close()
		return Artifact{}, err
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, err
	}

	p.nameMu.Lock()
	defer p.nameMu.Unlock()
	doc := fsutil.SafeName(docName)
	ms := p.now().UnixMilli()
	var final string
	for {
		final = filepath.Join(destDir, fmt.Sprintf("%s_parsed_%d.zip", doc, ms))
		if _, err := os.Lstat(final); os.IsNotExist(err) {
			break
		}
		ms++
	}
	if err := os.Rename(tmpName, final); err != nil {
		return Artifact{}, err
	}
	p.log.Debug().Str("archive", filepath.Base(final)).Int("members", len(files)).Msg("archive written")
	return Artifact{Path: final, Kind: KindArchive}, nil
}

func writeZip(w io.Writer, dir string, files []string) error {
	zw := zip.NewWriter(w)
	for _, name := range files {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate, Modified: archiveEpoch}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			return err
		}
		_, err = io.Copy(fw, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return zw.Close()
}
