package pprof

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	logx "supernotify/pkg/logx"
)

func TestRouterAuth(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Token: "sekrit"}, logx.Nop())
	h := s.router("sekrit")

	get := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if got := get("/debug/pprof/", ""); got != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", got)
	}
	if got := get("/debug/pprof/", "wrong"); got != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", got)
	}
	if got := get("/debug/pprof/", "sekrit"); got != http.StatusOK {
		t.Fatalf("good token: status = %d", got)
	}
	if got := get("/debug/pprof/heap?debug=1", "sekrit"); got != http.StatusOK {
		t.Fatalf("named profile: status = %d", got)
	}
	// Liveness stays open.
	if got := get("/healthz", ""); got != http.StatusOK {
		t.Fatalf("healthz: status = %d", got)
	}
}

func TestRouterNoToken(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop())
	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rr := httptest.NewRecorder()
	s.router("").ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestBindError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		addr    string
		cfg     Config
		refused bool
	}{
		{name: "loopback ipv4", addr: "127.0.0.1:6060"},
		{name: "localhost", addr: "localhost:6060"},
		{name: "loopback ipv6", addr: "[::1]:6060"},
		{name: "public no auth", addr: "0.0.0.0:6060", refused: true},
		{name: "all interfaces no auth", addr: ":6060", refused: true},
		{name: "public with token", addr: "0.0.0.0:6060", cfg: Config{Token: "t"}},
		{name: "public allow_insecure", addr: "0.0.0.0:6060", cfg: Config{AllowInsecure: true}},
		{name: "garbage addr", addr: "not an addr", refused: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := bindError(tt.addr, tt.cfg)
			if (err != nil) != tt.refused {
				t.Fatalf("bindError(%q) = %v, refused = %v", tt.addr, err, tt.refused)
			}
		})
	}
}

func TestReconfigureWhileDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if s.Enabled() {
		t.Fatal("disabled config reported enabled")
	}

	// Disabled-to-disabled reconfigure commits the config without serving.
	s.Reconfigure(context.Background(), Config{Enabled: false, Addr: "127.0.0.1:0"})
	if s.Enabled() {
		t.Fatal("still-disabled config reported enabled")
	}
	s.Stop(context.Background())
}
