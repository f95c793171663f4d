// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamwarden/streamwarden/internal/admission"
	"github.com/streamwarden/streamwarden/internal/catalog"
	"github.com/streamwarden/streamwarden/internal/coordinator"
	"github.com/streamwarden/streamwarden/internal/model"
	"github.com/streamwarden/streamwarden/internal/probe"
	"github.com/streamwarden/streamwarden/internal/store"
)

type fakeSupervisor struct {
	mu      sync.Mutex
	alive   map[string]bool
	nextPID int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{alive: make(map[string]bool), nextPID: 3000}
}

func (f *fakeSupervisor) Start(_ context.Context, key model.StreamKey, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[key.String()] = true
	f.nextPID++
	return f.nextPID, nil
}

func (f *fakeSupervisor) IsAlive(_ context.Context, key model.StreamKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[key.String()], nil
}

func (f *fakeSupervisor) Stop(_ context.Context, key model.StreamKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.alive[key.String()]
	delete(f.alive, key.String())
	return was, nil
}

func (f *fakeSupervisor) DiagnosticTail(model.StreamKey) []string {
	return []string{"frame=  100 fps= 25"}
}

type okRunner struct{}

func (okRunner) Probe(context.Context, string) (*probe.Details, error) {
	return &probe.Details{Container: "mpegts", VideoCodec: "h264"}, nil
}

func newTestServer(t *testing.T) (*Server, *catalog.SqliteCatalog, store.StateStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	st := store.NewRedisStoreFromClient(client, zerolog.Nop())

	cat, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	sup := newFakeSupervisor()
	validator := &probe.Validator{Runner: okRunner{}, Store: st, CacheTTL: time.Hour, Logger: zerolog.Nop()}
	coord := &coordinator.Coordinator{
		Store:        st,
		Catalog:      cat,
		Validator:    validator,
		Supervisor:   sup,
		Admission:    &admission.Controller{Store: st},
		Logger:       zerolog.Nop(),
		LockTTL:      time.Minute,
		BadSourceTTL: 5 * time.Minute,
	}
	srv := &Server{
		Coordinator: coord,
		Catalog:     cat,
		Supervisor:  sup,
		Validator:   validator,
		Store:       st,
		Logger:      zerolog.Nop(),
	}
	return srv, cat, st
}

func seedChannel(t *testing.T, cat *catalog.SqliteCatalog) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, cat.UpsertChannel(ctx, model.Channel{ID: 1, Name: "One"}))
	require.NoError(t, cat.UpsertSource(ctx, model.StreamSource{
		ID: 1, ChannelID: 1, URL: "http://src/a", Priority: 1, Enabled: true,
	}))
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestStartEndpoint(t *testing.T) {
	srv, cat, _ := newTestServer(t)
	seedChannel(t, cat)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp startResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, int64(1), resp.SourceID)
	assert.Equal(t, "/hls/channel/1/index.m3u8", resp.ManifestURL)
	assert.False(t, resp.AlreadyRunning)
}

func TestStartUnknownChannel(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/404/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartInvalidKind(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/banana/1/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartConflictWhenLocked(t *testing.T) {
	srv, cat, st := newTestServer(t)
	seedChannel(t, cat)
	key := model.StreamKey{Kind: model.KindChannel, ID: 1}
	held, err := st.AcquireLock(context.Background(), model.StartLockKey(key), "other", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStopEndpoint(t *testing.T) {
	srv, cat, _ := newTestServer(t)
	seedChannel(t, cat)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"wasRunning":true}`, rec.Body.String())

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"wasRunning":false}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	srv, cat, _ := newTestServer(t)
	seedChannel(t, cat)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/streams/channel/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Alive)
	require.NotNil(t, resp.Probe)
	assert.Equal(t, "h264", resp.Probe.VideoCodec)
	require.NotNil(t, resp.Session)
	assert.Equal(t, int64(1), resp.Session.ActiveSourceID)
	assert.NotEmpty(t, resp.StderrTail)
}

func TestSessionsEndpoint(t *testing.T) {
	srv, cat, _ := newTestServer(t)
	seedChannel(t, cat)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", "")

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []model.StreamSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	assert.Len(t, sessions, 1)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartWithProfileBody(t *testing.T) {
	srv, cat, st := newTestServer(t)
	seedChannel(t, cat)
	ctx := context.Background()
	require.NoError(t, cat.UpsertProfile(ctx, model.SubscriptionProfile{ID: 5, AccountID: 1, MaxConcurrent: 2, Active: true}))

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", `{"profileId":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	count, err := st.Counter(ctx, model.ProfileConnectionsKey(5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStartInactiveProfileForbidden(t *testing.T) {
	srv, cat, _ := newTestServer(t)
	seedChannel(t, cat)
	ctx := context.Background()
	require.NoError(t, cat.UpsertProfile(ctx, model.SubscriptionProfile{ID: 5, AccountID: 1, MaxConcurrent: 2, Active: false}))

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/streams/channel/1/start", `{"profileId":5}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "profile_inactive")
}
