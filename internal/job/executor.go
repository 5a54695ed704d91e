// Package job turns submissions into results: it stages the input, renders
// pages, runs recognition on the worker pool under a model lease, packages
// artifacts and cleans up, whichever way the job ends.
package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ocrd/internal/artifact"
	"ocrd/internal/common/fsutil"
	"ocrd/internal/jobstore"
	"ocrd/internal/model"
	"ocrd/internal/reaper"
	"ocrd/internal/render"
	"ocrd/internal/workerpool"
	"ocrd/pkg/types"
)

// ModelResource is the part of model.Resource the executor needs.
type ModelResource interface {
	Acquire(ctx context.Context) (*model.Lease, error)
	Release(ctx context.Context, force bool) error
}

// Config wires an Executor. Model, Pool, Renderer and Packager are required.
type Config struct {
	TempRoot   string
	ArchiveDir string
	// MaxUploadBytes rejects larger inputs; 0 disables the limit.
	MaxUploadBytes int64
	FailurePolicy  FailurePolicy

	Model    ModelResource
	Pool     *workerpool.Pool
	Renderer render.Renderer
	Packager *artifact.Packager
	Reaper   *reaper.Reaper
	Store    jobstore.Store
	Logger   *zerolog.Logger
}

// Executor runs jobs. It is safe for concurrent use.
type Executor struct {
	tempRoot   string
	archiveDir string
	maxUpload  int64
	policy     FailurePolicy

	model    ModelResource
	pool     *workerpool.Pool
	renderer render.Renderer
	packager *artifact.Packager
	reaper   *reaper.Reaper
	store    jobstore.Store
	log      zerolog.Logger
	now      func() time.Time
}

// NewExecutor validates cfg and applies defaults.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Model == nil || cfg.Pool == nil || cfg.Renderer == nil || cfg.Packager == nil {
		return nil, errors.New("job executor: model, pool, renderer and packager are required")
	}
	e := &Executor{
		tempRoot:   cfg.TempRoot,
		archiveDir: cfg.ArchiveDir,
		maxUpload:  cfg.MaxUploadBytes,
		policy:     cfg.FailurePolicy,
		model:      cfg.Model,
		pool:       cfg.Pool,
		renderer:   cfg.Renderer,
		packager:   cfg.Packager,
		reaper:     cfg.Reaper,
		store:      cfg.Store,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	if e.tempRoot == "" {
		e.tempRoot = os.TempDir()
	}
	if e.archiveDir == "" {
		e.archiveDir = e.tempRoot
	}
	if e.policy == "" {
		e.policy = BestEffort
	}
	if !e.policy.Valid() {
		return nil, fmt.Errorf("job executor: unknown failure policy %q", e.policy)
	}
	if e.reaper == nil {
		e.reaper = reaper.New(cfg.Logger)
	}
	if e.store == nil {
		e.store = jobstore.NewMemoryStore(0)
	}
	if cfg.Logger != nil {
		e.log = cfg.Logger.With().Str("component", "job").Logger()
	}
	return e, nil
}

// Reaper exposes the cleanup registry (tests, status).
func (e *Executor) Reaper() *reaper.Reaper { return e.reaper }

// Submit runs a job to completion and returns its result. The job is not
// tied to ctx cancellation: once accepted it runs until it terminates and
// its temporary files are removed before Submit returns.
func (e *Executor) Submit(ctx context.Context, sub Submission) Result {
	ctx = context.WithoutCancel(ctx)
	start := e.now()
	if sub.Task == "" {
		sub.Task = types.TaskParse
	}
	j := &Job{
		ID:        uuid.NewString(),
		DocName:   fsutil.SafeName(docStem(sub.Filename)),
		Task:      sub.Task,
		Split:     sub.Split && sub.Task == types.TaskParse,
		CreatedAt: start,
	}
	log := e.log.With().Str("job_id", j.ID).Str("task", string(j.Task)).Str("doc", j.DocName).Logger()
	log.Info().Bool("split", j.Split).Msg("job accepted")

	res, err := e.run(ctx, j, sub, log)
	res.JobID = j.ID
	res.Task = j.Task
	res.DocName = j.DocName
	res.Duration = e.now().Sub(start)
	if err != nil {
		res.Success = false
		res.ErrorKind = KindOf(err)
		if res.ErrorKind == "" {
			res.ErrorKind = KindIO
		}
		res.Message = err.Error()
		j.Status = types.JobFailed
	} else {
		res.Success = true
		j.Status = types.JobCompleted
	}
	e.record(ctx, j, res)
	jobsTotal.WithLabelValues(string(j.Task), outcome(res)).Inc()
	jobDuration.WithLabelValues(string(j.Task)).Observe(res.Duration.Seconds())

	ev := log.Info()
	if !res.Success {
		ev = log.Warn().Str("error_kind", string(res.ErrorKind))
	}
	ev.Int("pages", res.Pages).Ints("failed_pages", res.FailedPages).Dur("dur", res.Duration).Msg(res.Message)
	return res
}

func (e *Executor) run(ctx context.Context, j *Job, sub Submission, log zerolog.Logger) (Result, error) {
	var res Result
	instruction, err := Instruction(j.Task, sub.TableFormat)
	if err != nil {
		return res, err
	}
	kind, ext, err := classify(sub.Filename)
	if err != nil {
		return res, err
	}
	j.DocKind = kind

	scope := e.reaper.Begin(j.ID)
	defer func() {
		if err := scope.Close(); err != nil {
			log.Warn().Err(err).Msg("job cleanup incomplete")
		}
	}()
	workDir := filepath.Join(e.tempRoot, "job-"+j.ID)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return res, kindErr(KindIO, "create work dir", err)
	}
	scope.Track(workDir)

	j.InputPath, err = stage(sub.Source, workDir, ext, e.maxUpload)
	if err != nil {
		return res, err
	}
	if err := sniff(j.InputPath, kind); err != nil {
		return res, err
	}
	j.Status = types.JobStaged
	e.record(ctx, j, Result{})

	pages, err := e.renderer.Render(ctx, j.InputPath, kind, workDir)
	switch {
	case render.IsUnreadable(err):
		return res, kindErr(KindValidation, "", err)
	case err != nil:
		return res, kindErr(KindIO, "render pages", err)
	case len(pages) == 0:
		return res, validationErr("document has no pages")
	}
	res.Pages = len(pages)

	units := make([]PageUnit, len(pages))
	for i, p := range pages {
		units[i] = PageUnit{Index: p.Index, ImagePath: p.Path, Instruction: instruction}
	}

	lease, err := e.model.Acquire(ctx)
	if err != nil {
		return res, kindErr(KindModelUnavailable, "", err)
	}
	defer lease.Release()
	j.Status = types.JobRunning
	e.record(ctx, j, res)

	var inferErr error
	if j.Task == types.TaskParse {
		inferErr = e.parse(ctx, j, lease, units, sub, scope, &res)
	} else {
		inferErr = e.recognize(ctx, j.Task, lease, units, &res)
	}
	lease.Release()
	if needsReclaim(inferErr, units) {
		// start the next job from a fresh model; busy means another job holds it
		if rerr := e.model.Release(ctx, false); rerr != nil {
			log.Warn().Err(rerr).Msg("reclaim after memory failure skipped")
		} else {
			log.Warn().Msg("model released after memory failure")
		}
	}
	return res, inferErr
}

// needsReclaim reports whether the job or any of its pages failed in a way
// that leaves the model in a bad state. Pages that failed under BestEffort do
// not fail the job, so they are checked individually.
func needsReclaim(err error, units []PageUnit) bool {
	if err != nil && model.ShouldReclaim(err) {
		return true
	}
	for _, u := range units {
		if u.Err != nil && model.ShouldReclaim(u.Err) {
			return true
		}
	}
	return false
}

// recognize runs every page through one batched model call.
func (e *Executor) recognize(ctx context.Context, task types.TaskKind, lease *model.Lease, units []PageUnit, res *Result) error {
	out, err := e.batch(ctx, lease, units)
	if err != nil {
		pagesTotal.WithLabelValues("failed").Add(float64(len(units)))
		return kindErr(KindInference, "", err)
	}
	pagesTotal.WithLabelValues("ok").Add(float64(len(units)))
	res.Content = strings.Join(out, "\n\n")
	res.Message = fmt.Sprintf("%s extraction completed", task)
	return nil
}

func (e *Executor) batch(ctx context.Context, lease *model.Lease, units []PageUnit) ([]string, error) {
	mp := make([]model.Page, len(units))
	instr := make([]string, len(units))
	for i, u := range units {
		mp[i] = model.Page{Index: u.Index, Path: u.ImagePath}
		instr[i] = u.Instruction
	}
	f := workerpool.Run(e.pool, ctx, func(ctx context.Context) ([]string, error) {
		return lease.Backend().BatchInference(ctx, mp, instr)
	})
	out, err := f.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if len(out) != len(units) {
		return nil, fmt.Errorf("model returned %d responses for %d pages", len(out), len(units))
	}
	return out, nil
}

// parse runs a full document parse and packages its artifacts.
func (e *Executor) parse(ctx context.Context, j *Job, lease *model.Lease, units []PageUnit, sub Submission, scope *reaper.Scope, res *Result) error {
	if j.Split {
		e.fanOut(ctx, lease, units)
	} else {
		out, err := e.batch(ctx, lease, units)
		for i := range units {
			if err != nil {
				units[i].Err = err
				continue
			}
			units[i].Response = out[i]
		}
	}
	sort.Slice(units, func(a, b int) bool { return units[a].Index < units[b].Index })

	var outputs []artifact.PageOutput
	var failed []int
	var firstErr error
	for _, u := range units {
		if u.Err != nil {
			failed = append(failed, u.Index)
			if firstErr == nil {
				firstErr = u.Err
			}
			continue
		}
		outputs = append(outputs, artifact.PageOutput{Index: u.Index, Markdown: u.Response, ImagePath: u.ImagePath})
	}
	pagesTotal.WithLabelValues("ok").Add(float64(len(outputs)))
	pagesTotal.WithLabelValues("failed").Add(float64(len(failed)))
	res.FailedPages = failed
	switch {
	case len(outputs) == 0:
		return kindErr(KindInference, "all pages failed", firstErr)
	case len(failed) > 0 && e.policy == AllOrNothing:
		return kindErr(KindInference, fmt.Sprintf("page %d failed", failed[0]), firstErr)
	}

	j.OutputDir = e.packager.JobDir(j.DocName, j.ID)
	scope.Track(j.OutputDir)
	if _, err := e.packager.Materialize(j.OutputDir, j.DocName, j.Split, outputs); err != nil {
		return kindErr(KindIO, "write artifacts", err)
	}
	files, err := e.packager.Files(j.OutputDir)
	if err != nil {
		return kindErr(KindIO, "list artifacts", err)
	}
	dest := sub.ArchiveDir
	if dest == "" {
		dest = e.archiveDir
	}
	arc, err := e.packager.Archive(j.OutputDir, dest, j.DocName)
	if err != nil {
		return kindErr(KindIO, "write archive", err)
	}

	md := make([]string, len(outputs))
	for i, o := range outputs {
		md[i] = o.Markdown
	}
	res.Content = strings.Join(md, "\n\n")
	res.OutputDir = filepath.Base(j.OutputDir)
	res.Files = files
	res.Archive = arc.Path
	res.ArchiveName = filepath.Base(arc.Path)
	res.Message = "Parsing completed"
	if len(failed) > 0 {
		res.ErrorKind = KindPartialFailure
		res.Message = fmt.Sprintf("Parsing completed with %d of %d pages failed", len(failed), len(units))
	}
	return nil
}

// fanOut submits one pool task per page and waits for all of them. Under
// AllOrNothing the first failure stops pages that have not started; pages
// already running are never interrupted.
func (e *Executor) fanOut(ctx context.Context, lease *model.Lease, units []PageUnit) {
	gate, stop := context.WithCancel(ctx)
	defer stop()
	futures := make([]*workerpool.Future[string], len(units))
	for i := range units {
		u := units[i]
		futures[i] = workerpool.Run(e.pool, gate, func(gctx context.Context) (string, error) {
			out, err := lease.Backend().BatchInference(context.WithoutCancel(gctx),
				[]model.Page{{Index: u.Index, Path: u.ImagePath}}, []string{u.Instruction})
			if err == nil && len(out) != 1 {
				err = fmt.Errorf("model returned %d responses for one page", len(out))
			}
			if err != nil {
				if e.policy == AllOrNothing {
					stop()
				}
				return "", err
			}
			return out[0], nil
		})
	}
	for i, f := range futures {
		units[i].Response, units[i].Err = f.Wait(ctx)
	}
}

func (e *Executor) record(ctx context.Context, j *Job, res Result) {
	now := e.now()
	r := jobstore.Record{
		ID:          j.ID,
		DocName:     j.DocName,
		Task:        j.Task,
		Split:       j.Split,
		Status:      j.Status,
		ErrorKind:   string(res.ErrorKind),
		Message:     res.Message,
		Pages:       res.Pages,
		FailedPages: res.FailedPages,
		Archive:     res.ArchiveName,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   now,
	}
	if r.Status == "" {
		r.Status = types.JobFailed
	}
	if err := e.store.Put(ctx, r); err != nil {
		e.log.Warn().Str("job_id", j.ID).Err(err).Msg("ledger update failed")
	}
}

func outcome(r Result) string {
	switch {
	case !r.Success:
		return "failed"
	case r.ErrorKind == KindPartialFailure:
		return "partial"
	}
	return "ok"
}
