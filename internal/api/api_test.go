package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/rulegate/internal/config"
	applog "github.com/sunbk201/rulegate/internal/log"
	"github.com/sunbk201/rulegate/internal/metrics"
	"github.com/sunbk201/rulegate/internal/plugin"
	"github.com/sunbk201/rulegate/internal/rule"
	"github.com/sunbk201/rulegate/internal/server"
	"github.com/sunbk201/rulegate/internal/statistics"
)

type fixture struct {
	api *APIServer
	lb  *applog.Broadcaster
	ts  *httptest.Server
}

func newFixture(t *testing.T, secret string, withStats bool) *fixture {
	t.Helper()
	cfg := &config.Config{
		BindAddress:     "127.0.0.1",
		Port:            8899,
		LogLevel:        "info",
		APIServerSecret: secret,
		RulesHeader:     "x-rulegate-rules",
		Rules: []config.Rule{
			{Type: config.RuleTypeDomain, MatchValue: "example.com", Directive: "urlParams", Value: `{"from": "api"}`},
		},
	}
	store := rule.NewStore(cfg)
	ps, err := plugin.FromConfig([]config.Plugin{{Name: "tagger"}})
	require.NoError(t, err)
	mgr := plugin.NewManager(store)
	mgr.Replace(ps)

	var recorder *statistics.Recorder
	if withStats {
		dir := t.TempDir()
		recorder = statistics.NewRecorder(func(name string) string { return filepath.Join(dir, name) })
	}
	proxy := server.New(cfg, store, mgr, recorder, metrics.New())

	lb := applog.NewBroadcaster()
	a := New("127.0.0.1:0", "1.2.3", cfg, proxy, lb)
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)
	return &fixture{api: a, lb: lb, ts: ts}
}

func (f *fixture) get(t *testing.T, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestVersion(t *testing.T) {
	f := newFixture(t, "", false)
	res, body := f.get(t, "/version", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"version":"1.2.3"}`, body)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "s3cret", false)

	tests := []struct {
		name   string
		path   string
		header http.Header
		want   int
	}{
		{"missing", "/version", nil, http.StatusUnauthorized},
		{"wrong", "/version", http.Header{"Authorization": {"Bearer nope"}}, http.StatusUnauthorized},
		{"bearer", "/version", http.Header{"Authorization": {"Bearer s3cret"}}, http.StatusOK},
		{"bare header", "/version", http.Header{"Authorization": {"s3cret"}}, http.StatusOK},
		{"query", "/version?secret=s3cret", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _ := f.get(t, tt.path, tt.header)
			assert.Equal(t, tt.want, res.StatusCode)
		})
	}
}

func TestConfigRedactsSecret(t *testing.T) {
	f := newFixture(t, "s3cret", false)
	_, body := f.get(t, "/config?secret=s3cret", nil)
	assert.NotContains(t, body, "s3cret")
	assert.Contains(t, body, "******")
}

func TestRulesAndPlugins(t *testing.T) {
	f := newFixture(t, "", false)

	_, body := f.get(t, "/rules", nil)
	var rules struct {
		Source string        `json:"source"`
		Rules  []config.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &rules))
	assert.Equal(t, "config", rules.Source)
	require.Len(t, rules.Rules, 1)
	assert.Equal(t, "urlParams", rules.Rules[0].Directive)

	_, body = f.get(t, "/plugins", nil)
	assert.JSONEq(t, `["tagger"]`, body)
}

func TestInspect(t *testing.T) {
	f := newFixture(t, "", false)

	res, _ := f.get(t, "/inspect", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	q := url.Values{"url": {"http://example.com/a?b=1"}, "header": {"Accept-Encoding: gzip"}}
	res, body := f.get(t, "/inspect?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	var e server.Explanation
	require.NoError(t, json.Unmarshal([]byte(body), &e))
	assert.Equal(t, "http://example.com/a?b=1&from=api", e.Target)
	require.NotNil(t, e.Rules.URLParams)
}

func TestStats(t *testing.T) {
	f := newFixture(t, "", false)
	res, _ := f.get(t, "/stats/rewrites", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	f = newFixture(t, "", true)
	for _, path := range []string{"/stats/rewrites", "/stats/pipes", "/stats/connections"} {
		res, body := f.get(t, path, nil)
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
		assert.JSONEq(t, `[]`, body, path)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, "", false)
	res, body := f.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, body, "rulegate_requests_in_flight")
	assert.Contains(t, body, "go_goroutines")
}

func TestLogsWebSocket(t *testing.T) {
	f := newFixture(t, "", false)
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/logs"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return f.lb.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, err = f.lb.Write([]byte("hello log\n"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello log\n", string(msg))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, "", false)
	cfg := *f.api.cfg.Load()
	cfg.APIRateLimit = 1
	f.api.SetConfig(&cfg)
	f.ts = httptest.NewServer(f.api.Handler())
	t.Cleanup(f.ts.Close)

	res, _ := f.get(t, "/version", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = f.get(t, "/version", nil)
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
	assert.Equal(t, "1", res.Header.Get("Retry-After"))
}
