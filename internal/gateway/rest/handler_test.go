package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/o2r-project/o2r-finder/internal/gateway"
	"github.com/o2r-project/o2r-finder/internal/index"
	"github.com/o2r-project/o2r-finder/internal/provision"
	"github.com/o2r-project/o2r-finder/internal/server"
	"github.com/o2r-project/o2r-finder/internal/syncer"
	"github.com/o2r-project/o2r-finder/internal/transform"
	"github.com/o2r-project/o2r-finder/pkg/model"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) SimpleSearch(ctx context.Context, q *string, resources string) (*gateway.Response, error) {
	args := m.Called(ctx, q, resources)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Response), args.Error(1)
}

func (m *MockSearcher) ComplexSearch(ctx context.Context, body []byte) (*gateway.Response, error) {
	args := m.Called(ctx, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Response), args.Error(1)
}

type staticWatchers []syncer.WatcherStatus

func (s staticWatchers) Status() []syncer.WatcherStatus { return s }

// newTestServer mounts h on the finder HTTP server.
func newTestServer(h *Handler) http.Handler {
	srv := server.New(server.DefaultConfig(), nil)
	h.RegisterRoutes(srv.Router())
	return srv.Handler()
}

func do(t *testing.T, handler http.Handler, method, target string, body io.Reader, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["error"]
}

func sampleResponse() *gateway.Response {
	return &gateway.Response{Hits: gateway.Hits{
		Total:    1,
		MaxScore: 1.5,
		Hits:     []gateway.Hit{{Score: 1.5, Source: model.Document{"compendium_id": "0ShuS"}}},
	}}
}

func TestSimpleSearch(t *testing.T) {
	ms := new(MockSearcher)
	ms.On("SimpleSearch", mock.Anything, mock.MatchedBy(func(q *string) bool {
		return q != nil && *q == "https://dx.doi.org/10.1115/1.2128636"
	}), "compendia,jobs").Return(sampleResponse(), nil)

	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))
	rr := do(t, h, http.MethodGet, "/api/v1/search?q=https://dx.doi.org/10.1115/1.2128636&resources=compendia,jobs&other=1", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hits": {"total": 1, "max_score": 1.5, "hits": [{"_score": 1.5, "_source": {"compendium_id": "0ShuS"}}]}}`, rr.Body.String())
	ms.AssertExpectations(t)
}

func TestSimpleSearch_MissingQuery(t *testing.T) {
	ms := new(MockSearcher)
	ms.On("SimpleSearch", mock.Anything, (*string)(nil), "jobs").Return(nil, model.ErrNoQuery)

	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))
	rr := do(t, h, http.MethodGet, "/api/v1/search?resources=jobs", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"no query provided"}`, rr.Body.String())
	ms.AssertExpectations(t)
}

func TestSimpleSearch_EmptyQueryIsPresent(t *testing.T) {
	ms := new(MockSearcher)
	ms.On("SimpleSearch", mock.Anything, mock.MatchedBy(func(q *string) bool {
		return q != nil && *q == ""
	}), "").Return(sampleResponse(), nil)

	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))
	rr := do(t, h, http.MethodGet, "/api/v1/search?q=", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	ms.AssertExpectations(t)
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"unknown resource", fmt.Errorf("%w: bogus", model.ErrUnknownResource), http.StatusNotFound, "unknown resource: bogus"},
		{"engine reason", &gateway.QueryError{Status: http.StatusNotFound, Message: "no such index [x]"}, http.StatusNotFound, "no such index [x]"},
		{"fallback", &gateway.QueryError{Status: http.StatusBadRequest, Message: gateway.SimpleQueryFailed}, http.StatusBadRequest, gateway.SimpleQueryFailed},
		{"timeout", &gateway.QueryError{Status: http.StatusGatewayTimeout, Message: gateway.SimpleQueryFailed}, http.StatusGatewayTimeout, gateway.SimpleQueryFailed},
		{"internal", errors.New("boom"), http.StatusInternalServerError, gateway.SimpleQueryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := new(MockSearcher)
			ms.On("SimpleSearch", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))
			rr := do(t, h, http.MethodGet, "/api/v1/search?q=x", nil)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.message, decodeError(t, rr))
			assert.NotContains(t, rr.Body.String(), "hits")
		})
	}
}

func TestSearch_Canceled(t *testing.T) {
	ms := new(MockSearcher)
	ms.On("SimpleSearch", mock.Anything, mock.Anything, mock.Anything).Return(nil, model.ErrCanceled)

	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))
	rr := do(t, h, http.MethodGet, "/api/v1/search?q=x", nil)
	assert.Equal(t, 499, rr.Code)
}

func TestSearch_RequestTimeoutReachesSearcher(t *testing.T) {
	ms := new(MockSearcher)
	ms.On("SimpleSearch", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), mock.Anything, mock.Anything).Return(sampleResponse(), nil)

	cfg := gateway.DefaultConfig()
	cfg.RequestTimeout = time.Minute
	h := newTestServer(NewHandler(ms, cfg))
	rr := do(t, h, http.MethodGet, "/api/v1/search?q=x", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	ms.AssertExpectations(t)
}

func TestComplexSearch(t *testing.T) {
	body := `{"query": {"match_all": {}}}`
	ms := new(MockSearcher)
	ms.On("ComplexSearch", mock.Anything, []byte(body)).Return(sampleResponse(), nil)

	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))
	rr := do(t, h, http.MethodPost, "/api/v1/search", strings.NewReader(body), "Content-Type", "application/json")

	assert.Equal(t, http.StatusOK, rr.Code)
	ms.AssertExpectations(t)
}

func TestComplexSearch_Errors(t *testing.T) {
	ms := new(MockSearcher)
	ms.On("ComplexSearch", mock.Anything, []byte{}).Return(nil, model.ErrNoQuery)
	ms.On("ComplexSearch", mock.Anything, []byte("{}")).Return(nil, errors.New("boom"))

	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))

	rr := do(t, h, http.MethodPost, "/api/v1/search", strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "no query provided", decodeError(t, rr))

	rr = do(t, h, http.MethodPost, "/api/v1/search", strings.NewReader("{}"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, gateway.ComplexQueryFailed, decodeError(t, rr))
}

func TestComplexSearch_BodyTooLarge(t *testing.T) {
	ms := new(MockSearcher)
	cfg := gateway.DefaultConfig()
	cfg.MaxBodySize = 16

	h := newTestServer(NewHandler(ms, cfg))
	rr := do(t, h, http.MethodPost, "/api/v1/search", bytes.NewReader(bytes.Repeat([]byte("a"), 64)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	ms.AssertNotCalled(t, "ComplexSearch", mock.Anything, mock.Anything)
}

func TestUnsupportedRoutes(t *testing.T) {
	ms := new(MockSearcher)
	h := newTestServer(NewHandler(ms, gateway.DefaultConfig()))

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/api/v1/search/o2r"},
		{http.MethodDelete, "/api/v1/search"},
		{http.MethodPut, "/api/v1/search"},
		{http.MethodPost, "/api/v1/search/_mapping"},
		{http.MethodGet, "/api/v1/nothing"},
	} {
		rr := do(t, h, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, tc.method+" "+tc.path)
		assert.Equal(t, "not found", decodeError(t, rr))
	}
	ms.AssertNotCalled(t, "SimpleSearch", mock.Anything, mock.Anything, mock.Anything)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(NewHandler(new(MockSearcher), gateway.DefaultConfig()))

	rr := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())

	rr = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "finder_http_requests_total")
}

func statusHandler(secret string) http.Handler {
	cfg := gateway.DefaultConfig()
	cfg.Status.JWTSecret = secret

	log := transform.NewLog(4)
	log.Append(transform.LogEntry{Time: time.Unix(0, 0).UTC(), ID: "5a1b", Entity: transform.Compendium, Outcome: transform.OutcomeSuccess})
	watchers := staticWatchers{{Collection: "compendia", Partition: "compendia", Type: "compendia", State: syncer.StateStreaming}}

	return newTestServer(NewHandler(new(MockSearcher), cfg,
		WithTransformLog(log), WithWatchers(watchers), WithInfo("o2r-finder", "1.2.3")))
}

func sign(t *testing.T, secret string, method jwt.SigningMethod, level int) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.MapClaims{"level": level, "exp": time.Now().Add(time.Hour).Unix()})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestStatus_Open(t *testing.T) {
	rr := do(t, statusHandler(""), http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "o2r-finder", resp.Name)
	assert.Equal(t, "1.2.3", resp.Version)
	require.Len(t, resp.Watchers, 1)
	assert.Equal(t, syncer.StateStreaming, resp.Watchers[0].State)
	require.Len(t, resp.Transforms, 1)
	assert.Equal(t, "5a1b", resp.Transforms[0].ID)
	assert.Equal(t, transform.OutcomeSuccess, resp.Transforms[0].Outcome)
}

func TestStatus_Guarded(t *testing.T) {
	const secret = "s3cret"
	h := statusHandler(secret)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + sign(t, "other", jwt.SigningMethodHS256, 1000), http.StatusUnauthorized},
		{"wrong method", "Bearer " + sign(t, secret, jwt.SigningMethodHS512, 1000), http.StatusUnauthorized},
		{"low level", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, 100), http.StatusForbidden},
		{"admin", "Bearer " + sign(t, secret, jwt.SigningMethodHS256, 500), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rr *httptest.ResponseRecorder
			if tt.header == "" {
				rr = do(t, h, http.MethodGet, "/api/v1/status", nil)
			} else {
				rr = do(t, h, http.MethodGet, "/api/v1/status", nil, "Authorization", tt.header)
			}
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

// TestEndToEnd runs the HTTP layer over a provisioned in-memory index.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	icfg := index.DefaultConfig()
	icfg.InMemory = true
	engine, err := index.NewBleve(icfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = provision.New(engine, provision.OptionsFrom(icfg), nil).EnsureAll(ctx, provision.Partitions(icfg))
	require.NoError(t, err)
	require.NoError(t, engine.Upsert(ctx, "compendia", "5a1b", model.Document{
		"id": "5a1b", "compendium_id": "0ShuS", "createdAt": "2017-06-01T10:00:00Z",
		"metadata": map[string]any{"o2r": map[string]any{"title": "Kuznets curve"}},
	}))

	svc := gateway.NewService(engine, gateway.DefaultConfig(), icfg.DefaultSize, gateway.ResourcesFrom(icfg), nil)
	h := newTestServer(NewHandler(svc, gateway.DefaultConfig()))

	rr := do(t, h, http.MethodGet, "/api/v1/search?q=Kuznets", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp gateway.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, uint64(1), resp.Hits.Total)
	assert.Equal(t, "0ShuS", resp.Hits.Hits[0].Source["compendium_id"])
	assert.NotContains(t, resp.Hits.Hits[0].Source, "id")
	assert.NotContains(t, resp.Hits.Hits[0].Source, "createdAt")

	rr = do(t, h, http.MethodGet, "/api/v1/search", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"no query provided"}`, rr.Body.String())

	rr = do(t, h, http.MethodGet, "/api/v1/search?q=*&resources=bogus,jobs", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotContains(t, rr.Body.String(), "hits")

	rr = do(t, h, http.MethodPost, "/api/v1/search", strings.NewReader(`{"query": {"bool": {"filter": {"geo_shape": {
		"metadata.o2r.spatial.union.geojson.geometry": {
			"shape": {"type": "polygon", "coordinates": [[[34.0, 38.5], [34.0, 68.6], [-7.2, 68.6], [-7.2, 38.5]]]},
			"relation": "within"
		}}}}}}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, gateway.ComplexQueryFailed, decodeError(t, rr))
}
