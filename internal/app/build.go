package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ocrd/internal/artifact"
	"ocrd/internal/common/execx"
	"ocrd/internal/config"
	"ocrd/internal/job"
	"ocrd/internal/jobstore"
	"ocrd/internal/model"
	"ocrd/internal/reaper"
	"ocrd/internal/render"
	"ocrd/internal/workerpool"
)

// Options carries collaborators that tests and embedders may replace.
type Options struct {
	// Loader overrides the loader selected by cfg.Backend.Mode.
	Loader    model.Loader
	Renderer  render.Renderer
	Publisher model.EventPublisher
}

// Build wires a Service from cfg. The returned Service owns its resources;
// call Close to release them.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*Service, error) {
	for _, dir := range []string{cfg.TempDir, cfg.OutputDir, cfg.ArchiveDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	loader := opts.Loader
	if loader == nil {
		var err error
		if loader, err = newLoader(cfg, opts.Publisher, log); err != nil {
			return nil, err
		}
	}

	runner := execx.ExecRunner{Log: log.With().Str("component", "exec").Logger()}
	var probe model.DeviceProbe
	if cfg.NvidiaSMI != "" && cfg.NvidiaSMI != "off" {
		probe = &model.NvidiaSMIProbe{Bin: cfg.NvidiaSMI, Runner: runner}
	}

	loadTimeout := time.Duration(cfg.Backend.ReadyTimeoutSeconds)*time.Second + 30*time.Second
	res := model.New(model.Config{
		Loader:       loader,
		Probe:        probe,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		DrainTimeout: time.Duration(cfg.DrainTimeoutSeconds) * time.Second,
		LoadTimeout:  loadTimeout,
		Publisher:    opts.Publisher,
		Logger:       &log,
	})

	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.New(render.Config{
			PdftoppmBin:  cfg.PDF.Pdftoppm,
			DPI:          cfg.PDF.DPI,
			MaxPages:     cfg.PDF.MaxPages,
			MaxImageSide: cfg.PDF.MaxImageSide,
			Runner:       runner,
			Log:          log.With().Str("component", "render").Logger(),
		})
	}

	var store jobstore.Store
	if cfg.JobDB != "" {
		s, err := jobstore.OpenSQLite(ctx, cfg.JobDB, log)
		if err != nil {
			return nil, err
		}
		store = s
	} else {
		store = jobstore.NewMemoryStore(0)
	}

	pool := workerpool.New(cfg.Workers,
		workerpool.WithName("pages"),
		workerpool.WithLogger(log.With().Str("component", "pool").Logger()))

	exec, err := job.NewExecutor(job.Config{
		TempRoot:       cfg.TempDir,
		ArchiveDir:     cfg.ArchiveDir,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		FailurePolicy:  job.FailurePolicy(cfg.FailurePolicy),
		Model:          res,
		Pool:           pool,
		Renderer:       renderer,
		Packager: artifact.New(artifact.Config{
			OutputRoot: cfg.OutputDir,
			Backend:    cfg.Backend.Mode,
			Log:        log.With().Str("component", "artifact").Logger(),
		}),
		Reaper: reaper.New(&log),
		Store:  store,
		Logger: &log,
	})
	if err != nil {
		_ = pool.Close(ctx)
		_ = store.Close()
		return nil, err
	}

	svc := &Service{
		exec:       exec,
		model:      res,
		pool:       pool,
		store:      store,
		archiveDir: cfg.ArchiveDir,
		log:        log.With().Str("component", "app").Logger(),
	}
	if cfg.ArchiveRetentionHours > 0 {
		svc.sweeper = &reaper.Sweeper{
			Dir:      cfg.ArchiveDir,
			MaxAge:   time.Duration(cfg.ArchiveRetentionHours) * time.Hour,
			Interval: 10 * time.Minute,
			Log:      log.With().Str("component", "sweeper").Logger(),
		}
	}
	return svc, nil
}

func newLoader(cfg config.Config, pub model.EventPublisher, log zerolog.Logger) (model.Loader, error) {
	b := cfg.Backend
	modelName := b.ModelName
	if modelName == "" {
		modelName = cfg.ModelConfig
	}
	reqTimeout := time.Duration(b.RequestTimeoutSecs) * time.Second
	switch b.Mode {
	case config.ModeSubprocess:
		return model.NewSubprocessLoader(model.SubprocessConfig{
			Command:        b.Command,
			Args:           b.Args,
			Host:           b.Host,
			PortStart:      b.PortStart,
			PortEnd:        b.PortEnd,
			ModelConfig:    cfg.ModelConfig,
			ModelName:      modelName,
			ReadyTimeout:   time.Duration(b.ReadyTimeoutSeconds) * time.Second,
			Env:            b.Env,
			MaxTokens:      b.MaxTokens,
			Concurrency:    b.BatchConcurrency,
			RequestTimeout: reqTimeout,
		}, pub, log), nil
	case config.ModeRemote:
		return model.NewRemoteLoader(model.RemoteConfig{
			BaseURL:        b.BaseURL,
			ModelName:      modelName,
			MaxTokens:      b.MaxTokens,
			Concurrency:    b.BatchConcurrency,
			RequestTimeout: reqTimeout,
		}), nil
	case config.ModeTesseract:
		return model.TesseractLoader{Languages: b.Languages}, nil
	case config.ModeStub:
		return &model.StubLoader{}, nil
	}
	return nil, fmt.Errorf("unknown backend mode %q", b.Mode)
}
