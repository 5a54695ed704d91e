package httpapi

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, falls back to log.Printf.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// default request log level, read once
var defaultLogLevel = func() LogLevel {
	if v := os.Getenv("OCRD_HTTP_LOG_LEVEL"); v != "" {
		return parseLevel(v)
	}
	return LevelInfo
}()

// SetDefaultLogLevel overrides the request log level used when a request
// carries no override.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

func requestLogLevel(r *http.Request) LogLevel {
	// Per-request overrides
	if v := r.URL.Query().Get("log"); v != "" {
		if v == "1" {
			return LevelDebug
		}
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLogger writes start/end lines for each request at the request's log
// level. Health probes and scrapes only log at debug.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lvl := requestLogLevel(r)
		min := LevelInfo
		switch r.URL.Path {
		case "/healthz", "/readyz", "/health", "/metrics":
			min = LevelDebug
		}
		if lvl < min {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rid := middleware.GetReqID(r.Context())
		if zlog != nil {
			z := zlog.Info().Str("method", r.Method).Str("path", r.URL.Path)
			if rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("start")
		} else {
			log.Printf("start method=%s path=%s", r.Method, r.URL.Path)
		}
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		if zlog != nil {
			z := zlog.Info()
			if sr.status >= 500 {
				z = zlog.Warn()
			}
			z = z.Int("status", sr.status).Str("path", r.URL.Path).Dur("dur", time.Since(start))
			if rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("end")
		} else {
			log.Printf("end status=%d path=%s dur=%s", sr.status, r.URL.Path, time.Since(start))
		}
	})
}

func logError(msg string, err error) {
	if zlog != nil {
		zlog.Error().Err(err).Msg(msg)
		return
	}
	log.Printf("%s: %v", msg, err)
}
