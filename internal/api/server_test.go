package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/engine"
	"github.com/ember-project/ember/internal/isaac"
	"github.com/ember-project/ember/internal/login"
	"github.com/ember-project/ember/internal/session"
	"github.com/ember-project/ember/internal/world"
)

const testToken = "secret"

type nopTransport struct{}

func (nopTransport) Write([]byte) error { return nil }
func (nopTransport) Close() error       { return nil }
func (nopTransport) RemoteAddr() string { return "10.0.0.2:50000" }

type memStore struct {
	mu    sync.Mutex
	saved int
}

func (m *memStore) Save(*db.Details) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved++
	return nil
}

func (m *memStore) SaveAll(all []*db.Details) (int, error) {
	for _, d := range all {
		_ = m.Save(d)
	}
	return len(all), nil
}

type testAPI struct {
	srv   *Server
	eng   *engine.Engine
	cfg   *config.Config
	store *memStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "ember.json"))
	require.NoError(t, err)
	app := cfg.GetApplicationData()
	app.API.Token = testToken
	app.Logging.Directory = t.TempDir()
	app.Security.RateLimitRPS = 0
	cfg.SetApplicationData(app)

	store := &memStore{}
	w := world.New(world.Config{WorldID: 1, MaxPlayers: 10})
	eng := engine.New(engine.Config{CycleRate: 10 * time.Millisecond, IdleTimeout: time.Minute, MaxUnknownOpcodes: 5}, w, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = eng.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testAPI{srv: NewServer(cfg, nil, eng, nil), eng: eng, cfg: cfg, store: store}
}

func (a *testAPI) join(t *testing.T, name string) {
	t.Helper()
	seed := [4]uint32{5, 6, 7, 8}
	creds := &login.Credentials{Username: name, InboundSeed: seed, OutboundSeed: isaac.OutboundSeed(seed)}
	before := a.eng.PlayerCount()
	a.eng.Admit(session.New(uint64(before+1), nopTransport{}, creds, nil), db.NewDetails(name), false)
	require.Eventually(t, func() bool { return a.eng.PlayerCount() == before+1 }, time.Second, 5*time.Millisecond)
}

func (a *testAPI) do(t *testing.T, method, path, body string, auth bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestPublicEndpoints(t *testing.T) {
	a := newTestAPI(t)

	rec, body := a.do(t, http.MethodGet, "/api/public/ping", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, body = a.do(t, http.MethodGet, "/api/public/server_info", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ember", body["server_name"])
	assert.Equal(t, float64(0), body["players_online"])

	rec, _ = a.do(t, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ember_tick_duration_seconds")

	rec, _ = a.do(t, http.MethodGet, "/api/nowhere", "", false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	a := newTestAPI(t)

	rec, _ := a.do(t, http.MethodGet, "/api/monitor/players", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/monitor/players", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/api/monitor/players", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlayerControl(t *testing.T) {
	a := newTestAPI(t)
	a.join(t, "alice")

	rec, body := a.do(t, http.MethodGet, "/api/monitor/players", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
	players := body["players"].([]interface{})
	assert.Equal(t, "Alice", players[0].(map[string]interface{})["name"])

	rec, body = a.do(t, http.MethodPost, "/api/control/broadcast", `{"message":"Restart soon."}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["recipients"])

	rec, _ = a.do(t, http.MethodPost, "/api/control/broadcast", `{"message":"   "}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = a.do(t, http.MethodPost, "/api/control/broadcast", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/api/control/save", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["saved"])

	rec, _ = a.do(t, http.MethodPost, "/api/control/kick/bob", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = a.do(t, http.MethodPost, "/api/control/kick/b@d", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/api/control/kick/alice", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", body["name"])
	require.Eventually(t, func() bool { return a.eng.PlayerCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTickEndpoints(t *testing.T) {
	a := newTestAPI(t)
	require.Eventually(t, func() bool { return a.eng.Tick() > 0 }, time.Second, 5*time.Millisecond)

	rec, body := a.do(t, http.MethodGet, "/api/monitor/tick", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["stats"].(map[string]interface{})
	assert.Positive(t, stats["tick"])

	rec, body = a.do(t, http.MethodGet, "/api/monitor/overloads", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "count")
}

func TestConfigEndpoints(t *testing.T) {
	a := newTestAPI(t)

	rec, body := a.do(t, http.MethodGet, "/api/configure/config", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	app := body["application_data"].(map[string]interface{})
	assert.Equal(t, redacted, app["api"].(map[string]interface{})["token"])

	// Moving the API onto the game port is refused and rolled back.
	bad := a.cfg.GetApplicationData()
	bad.API.Port = a.cfg.GetServer().Port
	bad.API.Token = redacted
	raw, err := json.Marshal(bad)
	require.NoError(t, err)
	rec, _ = a.do(t, http.MethodPost, "/api/configure/app_data", string(raw), true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, config.DefaultAPIPort, a.cfg.GetApplicationData().API.Port)

	good := a.cfg.GetApplicationData()
	good.API.Token = redacted
	good.Security.RateLimitRPS = 50
	raw, err = json.Marshal(good)
	require.NoError(t, err)
	rec, _ = a.do(t, http.MethodPost, "/api/configure/app_data", string(raw), true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, a.cfg.GetApplicationData().Security.RateLimitRPS)
	assert.Equal(t, testToken, a.cfg.GetApplicationData().API.Token, "redacted token keeps the old one")
}

func TestIPWhitelist(t *testing.T) {
	a := newTestAPI(t)
	app := a.cfg.GetApplicationData()
	app.Security.IPWhitelist = []string{"10.1.0.0/16"}
	a.cfg.SetApplicationData(app)

	req := httptest.NewRequest(http.MethodGet, "/api/public/ping", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/public/ping", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	rec = httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()

	assert.True(t, rl.Allow("a", now))
	assert.True(t, rl.Allow("a", now))
	assert.False(t, rl.Allow("a", now), "burst is twice the rate")
	assert.True(t, rl.Allow("b", now))
	assert.True(t, rl.Allow("a", now.Add(time.Second)))

	assert.True(t, NewRateLimiter(0).Allow("a", now))
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("bearer abc"))
	assert.Empty(t, extractBearerToken("Basic abc"))
	assert.Empty(t, extractBearerToken(""))
}

func TestReadRecentLogEntries(t *testing.T) {
	dir := t.TempDir()
	lines := []string{
		`{"level":"info","time":"2026-01-01T00:00:00Z","message":"one","app":"ember"}`,
		`not json`,
		`{"level":"warn","time":"2026-01-01T00:00:01Z","message":"three","player":"alice"}`,
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ember.log"), []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	entries, err := readRecentLogEntries(dir, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "not json", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
	assert.Equal(t, "warn", entries[1].Level)
	assert.Equal(t, map[string]interface{}{"player": "alice"}, entries[1].Fields)

	empty, err := readRecentLogEntries(t.TempDir(), 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
