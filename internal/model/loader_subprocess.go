package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// SubprocessConfig describes how to spawn a local model server.
type SubprocessConfig struct {
	// Command is the server executable.
	Command string
	// Args may contain {host}, {port} and {model_config} placeholders.
	Args        []string
	Host        string
	PortStart   int
	PortEnd     int
	ModelConfig string
	ModelName   string
	// ReadyTimeout bounds the wait for /v1/models to answer.
	ReadyTimeout   time.Duration
	Env            []string
	MaxTokens      int
	Concurrency    int
	RequestTimeout time.Duration
}

// SubprocessLoader spawns one model server per loaded period. Releasing the
// backend terminates the process, which is what returns device memory.
type SubprocessLoader struct {
	cfg        SubprocessConfig
	httpClient *http.Client
	publisher  EventPublisher
	log        zerolog.Logger
}

// NewSubprocessLoader constructs a SubprocessLoader.
func NewSubprocessLoader(cfg SubprocessConfig, pub EventPublisher, log zerolog.Logger) *SubprocessLoader {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &SubprocessLoader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 0},
		publisher:  pub,
		log:        log.With().Str("component", "model_server").Logger(),
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func (l *SubprocessLoader) Load(ctx context.Context) (Backend, error) {
	if strings.TrimSpace(l.cfg.Command) == "" {
		return nil, ErrDependencyUnavailable("model server command is not configured")
	}
	bin, err := exec.LookPath(l.cfg.Command)
	if err != nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("model server %q not found: %v", l.cfg.Command, err))
	}
	host := l.cfg.Host
	var port int
	if l.cfg.PortStart > 0 && l.cfg.PortEnd >= l.cfg.PortStart {
		port, err = pickPortInRange(host, l.cfg.PortStart, l.cfg.PortEnd)
	} else {
		port, err = pickFreePort(host)
	}
	if err != nil {
		return nil, err
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, port)

	cmd := exec.Command(bin, expandArgs(l.cfg.Args, host, port, l.cfg.ModelConfig)...)
	cmd.Env = append(os.Environ(), l.cfg.Env...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model server: %w", err)
	}
	pid := cmd.Process.Pid
	l.log.Info().Str("event", "spawn_start").Int("pid", pid).Str("host", host).Int("port", port).Msg("model server started")
	l.publisher.Publish(Event{Name: "spawn_start", Fields: map[string]any{"pid": pid, "host": host, "port": port}})

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	proc := &serverProc{cmd: cmd, exited: exited, log: l.log, publisher: l.publisher}
	deadline := time.Now().Add(l.cfg.ReadyTimeout)
	for {
		select {
		case <-exited:
			tail := stderr.String()
			l.log.Error().Str("event", "spawn_exit").Int("pid", pid).AnErr("wait_err", waitErr).Msg("model server exited before ready")
			l.publisher.Publish(Event{Name: "spawn_exit", Fields: map[string]any{"pid": pid, "before_ready": true}})
			if waitErr != nil {
				return nil, fmt.Errorf("model server exited early: %v; stderr tail: %s", waitErr, tail)
			}
			return nil, fmt.Errorf("model server exited before ready: %s; stderr tail: %s", baseURL, tail)
		case <-ctx.Done():
			_ = proc.stop()
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			_ = proc.stop()
			l.publisher.Publish(Event{Name: "spawn_timeout", Fields: map[string]any{"pid": pid}})
			return nil, fmt.Errorf("model server not ready in time: %s", baseURL)
		}
		if healthy(ctx, l.httpClient, baseURL, time.Second) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	l.log.Info().Str("event", "spawn_ready").Int("pid", pid).Str("url", baseURL).Msg("model server ready")
	l.publisher.Publish(Event{Name: "spawn_ready", Fields: map[string]any{"pid": pid, "url": baseURL}})

	return &openAIBackend{
		name:        "openai-subprocess",
		baseURL:     baseURL,
		model:       l.cfg.ModelName,
		maxTokens:   l.cfg.MaxTokens,
		concurrency: l.cfg.Concurrency,
		timeout:     l.cfg.RequestTimeout,
		httpClient:  l.httpClient,
		onClose:     proc.stop,
	}, nil
}

type serverProc struct {
	cmd       *exec.Cmd
	exited    chan struct{}
	once      sync.Once
	log       zerolog.Logger
	publisher EventPublisher
}

// stop sends SIGTERM and kills the process if it has not exited after 5s.
func (p *serverProc) stop() error {
	var err error
	p.once.Do(func() {
		select {
		case <-p.exited:
			return
		default:
		}
		if e := p.cmd.Process.Signal(syscall.SIGTERM); e != nil && !errors.Is(e, os.ErrProcessDone) {
			err = e
		}
		select {
		case <-p.exited:
		case <-time.After(5 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.exited
		}
		p.log.Info().Str("event", "spawn_stop").Int("pid", p.cmd.Process.Pid).Msg("model server stopped")
		p.publisher.Publish(Event{Name: "spawn_stop", Fields: map[string]any{"pid": p.cmd.Process.Pid}})
	})
	return err
}

func expandArgs(args []string, host string, port int, modelConfig string) []string {
	r := strings.NewReplacer("{host}", host, "{port}", strconv.Itoa(port), "{model_config}", modelConfig)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
