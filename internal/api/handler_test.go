package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/internal/gateway"
	"sqlgate/internal/metrics"
	"sqlgate/internal/middleware"
	"sqlgate/internal/policy"
)

type fakeService struct {
	mu       sync.Mutex
	queries  []string
	deadline bool
	reloads  int
}

func (f *fakeService) record(ctx context.Context, q string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	_, f.deadline = ctx.Deadline()
}

func (f *fakeService) Execute(ctx context.Context, query string) gateway.QueryResult {
	f.record(ctx, query)
	if strings.Contains(query, "IIN") {
		msg := "Column 'IIN' is forbidden by policy"
		return gateway.QueryResult{Error: &msg}
	}
	n := 1
	return gateway.QueryResult{Success: true, Data: []map[string]any{{"name": "Aida"}}, RowCount: &n}
}

func (f *fakeService) Explain(ctx context.Context, query string) gateway.ExplainResult {
	f.record(ctx, query)
	cost := 12.5
	return gateway.ExplainResult{
		Success:    true,
		Mode:       gateway.ModeDry,
		Plan:       json.RawMessage(`[{"Plan": {"Node Type": "Result"}}]`),
		EstCost:    &cost,
		RelSizes:   map[string]int64{},
		Warnings:   []string{"missing LIMIT"},
		Violations: []string{},
	}
}

func (f *fakeService) GetPolicies(context.Context) gateway.PolicyInfo {
	return gateway.PolicyInfo{Success: true, Version: 3, Policies: policy.Snapshot{AllowTables: []string{"clients"}}}
}

func (f *fakeService) GetMetaInfo(context.Context) gateway.MetaInfo {
	return gateway.MetaInfo{Success: true, DatabaseInfo: map[string]any{"database_name": "bank"}}
}

func (f *fakeService) ReloadPolicy(context.Context) gateway.ReloadResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return gateway.ReloadResult{Success: true, Version: int64(3 + f.reloads)}
}

func newTestServer(t *testing.T, svc Service, cfg RouterConfig) *httptest.Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewRouter(ctx, svc, cfg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRoot(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{})

	code, body := doJSON(t, http.MethodGet, srv.URL+"/", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "SQL gateway is running", body["message"])
}

func TestExec(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, RouterConfig{})

	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantSuccess any
		wantMessage string
	}{
		{name: "admitted", body: `{"query": "SELECT name FROM clients"}`, wantCode: http.StatusOK, wantSuccess: true},
		{name: "rejected is still 200", body: `{"query": "SELECT IIN FROM clients"}`, wantCode: http.StatusOK, wantSuccess: false},
		{name: "unknown fields ignored", body: `{"query": "SELECT 1", "trace": true}`, wantCode: http.StatusOK, wantSuccess: true},
		{name: "malformed json", body: `{"query": `, wantCode: http.StatusBadRequest, wantMessage: "invalid request body"},
		{name: "missing query", body: `{"sql": "SELECT 1"}`, wantCode: http.StatusBadRequest, wantMessage: "field 'query' is required"},
		{name: "wrong type", body: `{"query": 42}`, wantCode: http.StatusBadRequest, wantMessage: "invalid request body"},
		{name: "empty body", body: "", wantCode: http.StatusBadRequest, wantMessage: "request body is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doJSON(t, http.MethodPost, srv.URL+"/exec", tt.body, nil)
			require.Equal(t, tt.wantCode, code)
			if tt.wantMessage != "" {
				assert.InDelta(t, tt.wantCode, body["code"], 0.001)
				assert.Contains(t, body["message"], tt.wantMessage)
				return
			}
			assert.Equal(t, tt.wantSuccess, body["success"])
			assert.Contains(t, body, "data")
			assert.Contains(t, body, "row_count")
			assert.Contains(t, body, "error")
		})
	}
}

func TestExecRejectedShape(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{})

	_, body := doJSON(t, http.MethodPost, srv.URL+"/exec", `{"query": "SELECT IIN FROM clients"}`, nil)
	assert.Equal(t, map[string]any{
		"success":   false,
		"data":      nil,
		"row_count": nil,
		"error":     "Column 'IIN' is forbidden by policy",
	}, body)
}

func TestExplain(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, RouterConfig{RequestTimeout: time.Minute})

	code, body := doJSON(t, http.MethodPost, srv.URL+"/explain", `{"query": "SELECT 1"}`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "dry", body["mode"])
	assert.InDelta(t, 12.5, body["est_cost"], 0.001)
	assert.Equal(t, []any{"missing LIMIT"}, body["warnings"])
	assert.True(t, svc.deadline, "request timeout should reach the gateway")
}

func TestBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{MaxBodyBytes: 64})

	big := `{"query": "` + strings.Repeat("x", 200) + `"}`
	code, body := doJSON(t, http.MethodPost, srv.URL+"/exec", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.InDelta(t, 413, body["code"], 0.001)
}

func TestMetadataEndpoints(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc, RouterConfig{})

	code, body := doJSON(t, http.MethodGet, srv.URL+"/getPolicies", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 3, body["version"], 0.001)
	assert.Equal(t, []any{"clients"}, body["policies"].(map[string]any)["allow_tables"])

	code, body = doJSON(t, http.MethodGet, srv.URL+"/getMetainfo", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bank", body["database_info"].(map[string]any)["database_name"])

	code, body = doJSON(t, http.MethodPost, srv.URL+"/reloadPolicies", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 4, body["version"], 0.001)

	code, body = doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 3, body["policy_version"], 0.001)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{})

	resp, err := http.Get(srv.URL + "/exec")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuthProtectsGatewayEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{
		Auth: middleware.AuthConfig{APIKeys: map[string]string{"k-analyst": "analyst"}},
	})

	code, _ := doJSON(t, http.MethodPost, srv.URL+"/exec", `{"query": "SELECT 1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/exec", `{"query": "SELECT 1"}`,
		map[string]string{middleware.APIKeyHeader: "k-analyst"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, code, "health stays public")
}

func TestRateLimitedEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
	})

	code, _ := doJSON(t, http.MethodGet, srv.URL+"/getPolicies", "", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = doJSON(t, http.MethodGet, srv.URL+"/getPolicies", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetPolicyVersion(5)
	srv := newTestServer(t, &fakeService{}, RouterConfig{Metrics: m.Handler()})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(raw, []byte("sqlgate_policy_version 5")))
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.RequestIDHeader, "trace-7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-7", resp.Header.Get(middleware.RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, RouterConfig{CORSOrigins: []string{"https://bi.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/exec", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://bi.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://bi.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
