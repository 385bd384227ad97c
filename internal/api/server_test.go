package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Woe-Notify/internal/auth"
	xerrors "Woe-Notify/internal/errors"
	"Woe-Notify/internal/pluginsvc"
	"Woe-Notify/internal/storage/memstore"
	"Woe-Notify/pkg/plugin"
	"Woe-Notify/pkg/plugin/builtin"
)

const (
	adminToken = "Cadmin"
	userToken  = "Calice"
)

type nopInvalidator struct{}

func (nopInvalidator) Invalidate(int64) {}

type recordedRequest struct {
	handler string
	method  string
	status  int
}

type recordingObserver struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (o *recordingObserver) ObserveHTTPRequest(handler, method string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, recordedRequest{handler: handler, method: method, status: status})
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

type testServer struct {
	handler  http.Handler
	store    *memstore.Store
	observer *recordingObserver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	registry := plugin.NewRegistry()
	require.NoError(t, builtin.Register(registry, builtin.Options{}))

	plugins, err := pluginsvc.New(store, registry, nopInvalidator{})
	require.NoError(t, err)

	authSvc, err := auth.NewService([]auth.Token{
		{Token: adminToken, UserID: 1, Name: "admin", Admin: true},
		{Token: userToken, UserID: 2, Name: "alice"},
	}, store)
	require.NoError(t, err)
	require.NoError(t, authSvc.Seed(context.Background(), store))

	observer := &recordingObserver{}
	srv, err := NewServer(Options{
		Plugins:        plugins,
		Auth:           authSvc,
		Health:         store,
		Metrics:        observer,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("woe_up 1\n")) }),
	})
	require.NoError(t, err)
	return &testServer{handler: srv.Handler(), store: store, observer: observer}
}

func (ts *testServer) do(t *testing.T, method, target, token string, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set(auth.HeaderClientKey, token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) list(t *testing.T, token string) []pluginsvc.Entry {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/plugin", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []pluginsvc.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	return entries
}

func (ts *testServer) idOf(t *testing.T, module string) int64 {
	t.Helper()
	for _, entry := range ts.list(t, adminToken) {
		if entry.ModulePath == module {
			return entry.ID
		}
	}
	t.Fatalf("module %s not listed", module)
	return 0
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) auth.ErrorBody {
	t.Helper()
	var body auth.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestNewServerRequiresServices(t *testing.T) {
	_, err := NewServer(Options{})
	require.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"health":"green","database":"green"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "woe_up")
}

func TestHealthReportsStorageFailure(t *testing.T) {
	store := memstore.New()
	registry := plugin.NewRegistry()
	plugins, err := pluginsvc.New(store, registry, nopInvalidator{})
	require.NoError(t, err)
	authSvc, err := auth.NewService(nil, store)
	require.NoError(t, err)
	srv, err := NewServer(Options{Plugins: plugins, Auth: authSvc, Health: failingPinger{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/plugin", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, http.StatusUnauthorized, body.ErrorCode)
	assert.Equal(t, "Unauthorized", body.Error)
}

func TestHandlerWithoutAuthenticatedUser(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plugin", nil)
	(&Server{}).handleList(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, decodeError(t, rec).ErrorCode)
}

func TestListProvisionsBuiltins(t *testing.T) {
	ts := newTestServer(t)

	entries := ts.list(t, adminToken)
	require.Len(t, entries, 2)
	assert.Equal(t, builtin.WebhookerModule, entries[0].ModulePath)
	assert.Equal(t, builtin.DisplayerModule, entries[1].ModulePath)
	assert.True(t, strings.HasPrefix(entries[0].Token, "P"))
	assert.NotEmpty(t, entries[0].ConfigExample)

	// 未授权的普通用户看不到任何模块。
	assert.Empty(t, ts.list(t, userToken))
}

func TestConfigRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	id := ts.idOf(t, builtin.WebhookerModule)
	target := "/plugin/" + itoa(id) + "/config"

	rec := ts.do(t, http.MethodPost, target, adminToken, "targetUrl: https://example.com", map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec).ErrorDescription, ContentTypeYAML)

	rec = ts.do(t, http.MethodPost, target, adminToken, "targetUrl: https://example.com\n", map[string]string{"Content-Type": "application/x-yaml; charset=utf-8"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, target, adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentTypeYAML, rec.Header().Get("Content-Type"))
	assert.Equal(t, "targetUrl: https://example.com\n", rec.Body.String())
}

func TestPluginNotFoundAndBadID(t *testing.T) {
	ts := newTestServer(t)
	ts.list(t, adminToken)

	rec := ts.do(t, http.MethodGet, "/plugin/999/config", adminToken, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decodeError(t, rec).ErrorCode)

	rec = ts.do(t, http.MethodPost, "/plugin/abc/enable", adminToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/plugin/999/enable", adminToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisplay(t *testing.T) {
	ts := newTestServer(t)
	id := ts.idOf(t, builtin.DisplayerModule)
	base := "/plugin/" + itoa(id)

	rec := ts.do(t, http.MethodGet, base+"/display", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, base+"/config", adminToken, `messageFormat: "user #{USER_ID}"`, map[string]string{"Content-Type": ContentTypeYAML})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, base+"/enable", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"/display", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var text string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &text))
	assert.Equal(t, "user 1", text)

	rec = ts.do(t, http.MethodPost, base+"/disable", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, base+"/display", adminToken, "", nil)
	assert.JSONEq(t, `{}`, rec.Body.String())
}

func TestLogs(t *testing.T) {
	ts := newTestServer(t)
	id := ts.idOf(t, builtin.WebhookerModule)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, ts.store.InsertLog(ctx, plugin.PluginLog{
			PluginID:   id,
			UserID:     1,
			Event:      plugin.EventMessageCreate,
			Status:     plugin.StatusOK,
			DurationMs: int64(i),
			CreatedAt:  at.Add(time.Duration(i) * time.Second),
		}))
	}
	base := "/plugin/" + itoa(id) + "/logs"

	rec := ts.do(t, http.MethodGet, base+"?limit=abc", adminToken, "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, base+"?limit=2", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []pluginsvc.LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].DurationMs)

	rec = ts.do(t, http.MethodGet, base+"?limit=0", adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	rec = ts.do(t, http.MethodGet, base, adminToken, "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 3)
}

func TestDelete(t *testing.T) {
	ts := newTestServer(t)
	id := ts.idOf(t, builtin.WebhookerModule)

	rec := ts.do(t, http.MethodDelete, "/plugin/"+itoa(id), adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/plugin/"+itoa(id), adminToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionRoutes(t *testing.T) {
	ts := newTestServer(t)
	target := "/plugin/permission/2/" + builtin.DisplayerModule

	rec := ts.do(t, http.MethodPut, target, userToken, "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPut, target, adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var grant pluginsvc.Grant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.True(t, grant.Changed)
	assert.Equal(t, builtin.DisplayerModule, grant.ModulePath)

	entries := ts.list(t, userToken)
	require.Len(t, entries, 1)
	assert.Equal(t, builtin.DisplayerModule, entries[0].ModulePath)

	rec = ts.do(t, http.MethodPut, "/plugin/permission/2/unknown/module", adminToken, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, target, adminToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	assert.True(t, grant.Changed)
	assert.Empty(t, ts.list(t, userToken))
}

func TestRequestMetricsRecorded(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/plugin", "", "", nil)
	ts.do(t, http.MethodGet, "/health", "", "", nil)

	ts.observer.mu.Lock()
	defer ts.observer.mu.Unlock()
	require.Len(t, ts.observer.requests, 2)
	assert.Equal(t, recordedRequest{handler: "plugin.list", method: http.MethodGet, status: http.StatusUnauthorized}, ts.observer.requests[0])
	assert.Equal(t, recordedRequest{handler: "health", method: http.MethodGet, status: http.StatusOK}, ts.observer.requests[1])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{xerrors.New(xerrors.CodeNotFound, ""), http.StatusNotFound},
		{xerrors.New(pluginsvc.CodePluginNotFound, ""), http.StatusNotFound},
		{xerrors.New(xerrors.CodeInvalidArgument, ""), http.StatusBadRequest},
		{xerrors.New(pluginsvc.CodePluginConfigInvalid, ""), http.StatusBadRequest},
		{xerrors.New(xerrors.CodeConflict, ""), http.StatusConflict},
		{xerrors.New(xerrors.CodePermissionDenied, ""), http.StatusForbidden},
		{xerrors.New(pluginsvc.CodePluginPermissionDenied, ""), http.StatusForbidden},
		{xerrors.New(xerrors.CodeUnauthenticated, ""), http.StatusUnauthorized},
		{xerrors.New(pluginsvc.CodePluginRenderFailed, ""), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
