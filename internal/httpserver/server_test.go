package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/discoveryd/internal/discovery"
	"github.com/MrSnakeDoc/discoveryd/internal/domain"
	"github.com/MrSnakeDoc/discoveryd/internal/httpserver/deps"
	"github.com/MrSnakeDoc/discoveryd/internal/logger"
	"github.com/MrSnakeDoc/discoveryd/internal/metrics"
)

type fakeRegistry struct {
	mu       sync.Mutex
	ready    bool
	stopped  bool
	services map[domain.ServiceID]domain.Service
	nextID   domain.ServiceID
	calls    []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{ready: true, services: make(map[domain.ServiceID]domain.Service), nextID: 1}
}

func (f *fakeRegistry) IsReady() bool { return f.ready }

func (f *fakeRegistry) Services() []domain.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Service, 0, len(f.services))
	for id := domain.ServiceID(1); id < f.nextID; id++ {
		if s, ok := f.services[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeRegistry) Get(id domain.ServiceID) (domain.Service, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[id]
	return s, ok
}

func (f *fakeRegistry) Add(url string, t domain.ServiceType, n domain.NetworkType, rating uint8) domain.ServiceID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(url, "invalid") {
		return 0
	}
	id := f.nextID
	f.nextID++
	f.services[id] = domain.Service{ID: id, URL: url, Type: t, Network: n, Rating: rating}
	return id
}

func (f *fakeRegistry) Remove(id domain.ServiceID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.services[id]
	delete(f.services, id)
	return ok
}

func (f *fakeRegistry) Count(filter domain.NetworkType) int {
	n := 0
	for _, s := range f.Services() {
		if filter.IsNull() || s.Working(filter) {
			n++
		}
	}
	return n
}

func (f *fakeRegistry) Save(force bool) bool { return force }

func (f *fakeRegistry) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return discovery.ErrStopped
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeRegistry) QueryService(id domain.ServiceID) error  { return f.record("query-id") }
func (f *fakeRegistry) UpdateService(id domain.ServiceID) error { return f.record("update-id") }
func (f *fakeRegistry) QueryNetwork(n domain.NetworkType) error { return f.record("query-" + n.String()) }
func (f *fakeRegistry) UpdateNetwork(n domain.NetworkType) error {
	return f.record("update-" + n.String())
}

type fakeHosts struct{}

func (fakeHosts) Hosts(n domain.NetworkType, limit int) ([]domain.Host, error) {
	return []domain.Host{{Addr: "203.0.113.1:6346", LastSeen: time.Unix(1714564800, 0)}}, nil
}

func (fakeHosts) Count(domain.NetworkType) (int, error) { return 42, nil }

func newTestRouter(t *testing.T, reg *fakeRegistry) http.Handler {
	t.Helper()
	return NewRouter(deps.Deps{
		Logger:         logger.NewNop(),
		StartTime:      time.Now(),
		Metrics:        metrics.New(),
		Registry:       reg,
		Hosts:          fakeHosts{},
		MaxRating:      5,
		RateLimitBurst: 100,
		RateLimitPerMn: 100,
	})
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHealthAndReady(t *testing.T) {
	reg := newFakeRegistry()
	h := newTestRouter(t, reg)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/metrics", "").Code)

	reg.ready = false
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/readyz", "").Code)
}

func TestServiceLifecycle(t *testing.T) {
	reg := newFakeRegistry()
	h := newTestRouter(t, reg)

	w := do(h, http.MethodPost, "/api/services", `{"url":"http://cache.example.com/gwc","network":"g2|g1","rating":3}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var added struct{ ID domain.ServiceID }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &added))
	assert.Equal(t, domain.ServiceID(1), added.ID)

	svc, ok := reg.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.ServiceTypeGWC, svc.Type, "type defaults to gwc")
	assert.Equal(t, domain.NetworkG2|domain.NetworkG1, svc.Network)
	assert.Equal(t, uint8(3), svc.Rating)

	w = do(h, http.MethodPost, "/api/services", `{"url":"uhc:boot.example.com:6346","type":"bootstrap"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	svc, _ = reg.Get(2)
	assert.Equal(t, domain.NetworkG2, svc.Network, "network defaults to g2")
	assert.Equal(t, uint8(5), svc.Rating, "rating defaults to max")

	w = do(h, http.MethodGet, "/api/services?network=g1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed []domain.Service
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "http://cache.example.com/gwc", listed[0].URL)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/services/2", "").Code)
	assert.Equal(t, http.StatusNoContent, do(h, http.MethodDelete, "/api/services/2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/services/2", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodDelete, "/api/services/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/services/abc", "").Code)

	w = do(h, http.MethodGet, "/api/count?network=g2", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"network":"g2","count":1}`, w.Body.String())
}

func TestAddServiceRejections(t *testing.T) {
	h := newTestRouter(t, newFakeRegistry())

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed", body: `{"url":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"url":"http://a.example.com/","color":"red"}`, want: http.StatusBadRequest},
		{name: "missing url", body: `{"type":"gwc"}`, want: http.StatusBadRequest},
		{name: "unknown type", body: `{"url":"http://a.example.com/","type":"fax"}`, want: http.StatusBadRequest},
		{name: "bad network", body: `{"url":"http://a.example.com/","network":"kad"}`, want: http.StatusBadRequest},
		{name: "registry rejects", body: `{"url":"http://invalid.example.com/"}`, want: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(h, http.MethodPost, "/api/services", tt.body).Code)
		})
	}
}

func TestRequests(t *testing.T) {
	reg := newFakeRegistry()
	reg.Add("http://cache.example.com/", domain.ServiceTypeGWC, domain.NetworkG2, 5)
	h := newTestRouter(t, reg)

	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/services/1/query", "").Code)
	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/services/1/update", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/services/9/query", "").Code)
	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/networks/g2/query", "").Code)
	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/networks/gnutella/update", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/networks/null/query", "").Code)

	assert.Equal(t, []string{"query-id", "update-id", "query-g2", "update-g1"}, reg.calls)

	reg.stopped = true
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodPost, "/api/networks/g2/query", "").Code)
}

func TestSaveAndHosts(t *testing.T) {
	h := newTestRouter(t, newFakeRegistry())

	assert.Equal(t, http.StatusAccepted, do(h, http.MethodPost, "/api/save", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/save?force=true", "").Code)

	w := do(h, http.MethodGet, "/api/hosts/g2?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":42`)
	assert.Contains(t, w.Body.String(), "203.0.113.1:6346")

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/hosts/g2,g1", "").Code)
}
