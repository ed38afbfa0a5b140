package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventlane/internal/config"
	"eventlane/internal/lifecycle"
	"eventlane/internal/model"
	"eventlane/internal/platform/memory"
	"eventlane/internal/registry"
	"eventlane/internal/store"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type fixture struct {
	reg    *registry.Registry
	client *memory.Client
	sched  *lifecycle.Scheduler
	srv    *httptest.Server
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	f := &fixture{reg: registry.New(fs, registry.WithClock(clock)), client: memory.New()}
	f.sched = lifecycle.New(f.reg, f.client, lifecycle.Config{
		EventCreateLead:  48 * time.Hour,
		ThreadCreateLead: 2 * time.Hour,
		Lookahead:        7 * 24 * time.Hour,
		EventDuration:    48 * time.Hour,
		Location:         time.UTC,
	}, lifecycle.WithClock(clock))
	f.srv = httptest.NewServer(NewServer(cfg, f.reg, f.sched, WithClock(clock)).Handler())
	t.Cleanup(f.srv.Close)

	scope := model.Scope{ServerID: "guild", ChannelID: "races"}
	for id, in := range map[string]time.Duration{"soon": time.Hour, "later": 72 * time.Hour} {
		_, err := f.reg.Upsert(model.NewRecord(model.CalendarItem{ID: id, Title: id, StartTime: now.Add(in)}, scope))
		require.NoError(t, err)
	}
	return f
}

func do(t *testing.T, method, url string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())
	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListEventsWithStage(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())

	resp, body := do(t, http.MethodGet, f.srv.URL+"/api/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.Len(t, events, 2)

	first := events[0].(map[string]any)
	assert.Equal(t, "soon", first["id"])
	assert.Equal(t, string(model.StageEventCreationDue), first["stage"])
	second := events[1].(map[string]any)
	assert.Equal(t, string(model.StageDiscovered), second["stage"])

	_, body = do(t, http.MethodGet, f.srv.URL+"/api/events?stage=discovered")
	assert.Len(t, body["events"].([]any), 1)
}

func TestGetEvent(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())

	resp, body := do(t, http.MethodGet, f.srv.URL+"/api/events/soon")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "soon", body["id"])

	resp, _ = do(t, http.MethodGet, f.srv.URL+"/api/events/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminActions(t *testing.T) {
	f := newFixture(t, config.DefaultConfig())

	resp, _ := do(t, http.MethodPost, f.srv.URL+"/api/events/soon/end")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err := f.sched.RunTick(context.Background())
	require.NoError(t, err)

	resp, _ = do(t, http.MethodPost, f.srv.URL+"/api/events/soon/end")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, f.srv.URL+"/api/events/soon/close-thread")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	rec, err := f.reg.Get("soon")
	require.NoError(t, err)
	assert.True(t, rec.ThreadArchived)

	resp, body := do(t, http.MethodPost, f.srv.URL+"/api/events/soon/extend-archive?minutes=30")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, float64(lifecycle.DefaultArchiveDelayMinutes+30), body["archive_delay_minutes"], 0)

	resp, _ = do(t, http.MethodPost, f.srv.URL+"/api/events/soon/extend-archive?minutes=lots")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, f.srv.URL+"/api/events/nope/close-thread")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.client.FailNext(memory.CallEndEvent, assert.AnError)
	resp, _ = do(t, http.MethodPost, f.srv.URL+"/api/events/soon/end")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAdminUnavailable(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(config.DefaultConfig(), registry.New(fs), nil).Handler())
	defer srv.Close()

	resp, _ := do(t, http.MethodPost, srv.URL+"/api/events/x/end")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	f := newFixture(t, cfg)

	resp, _ := do(t, http.MethodGet, f.srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, f.srv.URL+"/api/events")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}
