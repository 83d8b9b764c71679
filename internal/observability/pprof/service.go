// Package pprof serves the runtime profiling endpoints on a dedicated
// listener, kept off the main API so profiling exposure stays opt-in.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	rtsup "supernotify/internal/runtime/supervisor"
	logx "supernotify/pkg/logx"
)

// Config controls the profiling server. A non-loopback bind is refused
// unless a token is set or AllowInsecure is explicit.
type Config struct {
	Enabled       bool
	Addr          string // default "127.0.0.1:6060"
	Token         string
	AllowInsecure bool

	ReadTimeout time.Duration
	// WriteTimeout stays 0 by default so long /profile captures work.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Runtime profiling rates. 0 keeps the Go defaults.
	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

const defaultAddr = "127.0.0.1:6060"

// Service runs the profiling listener. Construct with New, then
// Start/Stop; Reconfigure applies a changed config across a reload.
type Service struct {
	log logx.Logger

	mu  sync.Mutex
	cfg Config
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start begins serving if the config enables it. Idempotent; the serve
// loop self-heals under the supervisor with backoff.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	applyRuntimeRates(s.cfg)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Profiling is optional; its failures never take the app down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if err := bindError(addr, cfg); err != nil {
		s.log.Error("pprof refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.router(cfg.Token),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.log.Info("pprof listening",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", cfg.Token != ""))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(shCtx)
			cancel()
		case <-done:
		}
	}()
	err = srv.Serve(ln)
	close(done)
	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// router mounts the profiling handlers at the standard /debug/pprof/
// paths, which is where hpprof.Index expects to be rooted.
func (s *Service) router(token string) http.Handler {
	r := mux.NewRouter()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return auth(token, h) }

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
	r.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
	r.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
	r.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	r.PathPrefix("/debug/pprof/").HandlerFunc(wrap(hpprof.Index))

	return r
}

// auth enforces the bearer token on every profiling endpoint when set.
func auth(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// Reconfigure applies cfg across a config reload: runtime rates always,
// and the server is stopped, started or restarted as the enable flag and
// serving fields demand.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case prev != cfg:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Stop shuts the server down, waiting up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	srv := s.srv
	s.sup = nil
	s.srv = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	if srv != nil || sup != nil {
		s.log.Info("pprof stopped")
	}
}

func bindError(addr string, cfg Config) error {
	if cfg.Token != "" || cfg.AllowInsecure || isLoopback(addr) {
		return nil
	}
	return fmt.Errorf("non-loopback addr %q requires a token or allow_insecure", addr)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}
