// Package api exposes the engine over HTTP: inbound notifications,
// suppression commands, entity states and queryable engine state.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"supernotify/internal/engine"
	"supernotify/internal/eventbus"
	"supernotify/internal/presence"
	rtsup "supernotify/internal/runtime/supervisor"
	"supernotify/internal/storage"
	logx "supernotify/pkg/logx"
)

// Config controls the HTTP server.
type Config struct {
	Addr string
	// Token, when set, is required as a bearer token on mutating endpoints.
	Token string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the HTTP surface. Construct with New, then Start/Stop.
type Server struct {
	cfg   Config
	log   logx.Logger
	coord *engine.Coordinator
	// tracker may be nil when no presence entities are configured.
	tracker *presence.Tracker
	// store may be nil when storage is disabled.
	store   storage.Store
	metrics *Metrics

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func New(cfg Config, coord *engine.Coordinator, tracker *presence.Tracker, store storage.Store, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8686"
	}
	return &Server{
		cfg:     cfg,
		log:     log,
		coord:   coord,
		tracker: tracker,
		store:   store,
		metrics: NewMetrics(bus),
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/notify", s.auth(s.handleNotify)).Methods(http.MethodPost)
	r.HandleFunc("/suppress", s.auth(s.handleSuppress)).Methods(http.MethodPost)
	r.HandleFunc("/suppressions", s.handleSuppressions).Methods(http.MethodGet)
	r.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	r.HandleFunc("/last", s.handleLast).Methods(http.MethodGet)
	r.HandleFunc("/archive/purge", s.auth(s.handleArchivePurge)).Methods(http.MethodPost)
	r.HandleFunc("/inbox/{recipient}", s.handleInbox).Methods(http.MethodGet)
	r.HandleFunc("/states/{entity}", s.auth(s.handleSetState)).Methods(http.MethodPut)
	r.HandleFunc("/states/{entity}", s.handleGetState).Methods(http.MethodGet)

	return r
}

// auth enforces the bearer token on mutating endpoints when configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got != s.cfg.Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

// Start begins serving. Idempotent; the serve loop self-heals under the
// supervisor with backoff.
func (s *Server) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "api"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", s.serveOnce,
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	sup.Go("metrics.feed", func(c context.Context) error {
		s.metrics.Run(c)
		return nil
	})
}

func (s *Server) serveOnce(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:      s.router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()

	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

// Stop shuts the server down, waiting up to ctx.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	srv := s.srv
	s.sup = nil
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	s.log.Info("api stopped")
}
