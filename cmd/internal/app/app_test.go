package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"arcfeed/cmd/internal/realtime"
)

func testConfig() Config {
	return Config{
		LogLevel:      "debug",
		DBSchema:      realtime.DefaultSchema,
		Rooms:         []string{"gitter.im/org/room=r1", "staff=r2:alice"},
		Tokens:        []string{"tok-alice=alice:Alice", "tok-bob=bob"},
		MediaMaxBytes: 1 << 10,
	}
}

func newTestApp(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.closeStore)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url, tok string) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestApp_Routes(t *testing.T) {
	t.Parallel()
	srv := newTestApp(t, testConfig())

	cases := []struct {
		path   string
		tok    string
		status int
		want   string
	}{
		{"/healthz", "", http.StatusOK, "ok"},
		{"/readyz", "", http.StatusOK, "ready"},
		{"/v1/rooms/resolve?ref=gitter%3A%2F%2Forg%2Froom", "tok-bob", http.StatusOK, `"room_id":"r1"`},
		{"/v1/rooms/resolve?ref=org%2Froom", "", http.StatusUnauthorized, "unauthorized"},
		{"/v1/rooms/r2/messages", "tok-bob", http.StatusNotFound, "not_found"},
		{"/v1/rooms/r2/messages", "tok-alice", http.StatusOK, `"messages":[]`},
	}
	for _, tc := range cases {
		resp, body := get(t, srv.URL+tc.path, tc.tok)
		if resp.StatusCode != tc.status || !strings.Contains(body, tc.want) {
			t.Errorf("GET %s: status=%d body=%q", tc.path, resp.StatusCode, body)
		}
		if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("GET %s: missing security headers", tc.path)
		}
	}

	// Requests above are counted by route pattern.
	_, body := get(t, srv.URL+"/metrics", "")
	if !strings.Contains(body, `arcfeed_http_requests_total{code="200",method="GET",route="GET /healthz"} 1`) {
		t.Errorf("metrics missing healthz counter:\n%s", body)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ReadinessRequireDB = true
	srv := newTestApp(t, cfg)

	if resp, _ := get(t, srv.URL+"/readyz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}
}

func TestApp_SQLiteStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "rooms.db")

	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.closeStore()
	if a.storeKind != "sqlite" {
		t.Fatalf("store=%q", a.storeKind)
	}
}

func TestApp_RejectsBadSeed(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig()
	cfg.Rooms = []string{"missing-id="}
	if _, err := New(cfg, log); err == nil {
		t.Fatalf("expected room seed error")
	}

	cfg = testConfig()
	cfg.Tokens = []string{"dup=a", "dup=b"}
	if _, err := New(cfg, log); err == nil {
		t.Fatalf("expected token seed error")
	}
}
