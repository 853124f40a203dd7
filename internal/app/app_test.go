package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"decisiongate/internal/config"
	"decisiongate/internal/reasoning"
)

func klineServer(t *testing.T) *httptest.Server {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]string, 40)
	for i := range rows {
		open := start.Add(time.Duration(i) * time.Hour).UnixMilli()
		rows[i] = fmt.Sprintf(`[%d,"%d","%d","%d","%d","10",%d,"1000",5,"5","500","0"]`,
			open, 100+i, 101+i, 99+i, 100+i, open+time.Hour.Milliseconds()-1)
	}
	body := "[" + strings.Join(rows, ",") + "]"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func modelServer(t *testing.T, status int, content string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream unavailable"}}`))
			return
		}
		escaped := strings.ReplaceAll(content, `"`, `\"`)
		_, _ = fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":"%s"}}]}`, escaped)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, modelURL, marketURL, extra string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`app:
  http_addr: "127.0.0.1:0"
  log_level: error
reasoning:
  endpoint: %s
  api_key: sk-test-0123456789
  model: test-model
  max_retries: 1
  backoff_base_ms: 1
  backoff_max_ms: 2
  jitter: false
market:
  rest_base_url: %s
  symbols: [BTC/USDT]
  interval: 1h
  candle_limit: 40
  max_retries: 0
loop:
  run_immediately: false
store:
  path: %s
%s`, modelURL, marketURL, filepath.Join(dir, "data", "decisions.db"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func get(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestApp_ModelDecisionIsAudited(t *testing.T) {
	var hits int32
	model := modelServer(t, http.StatusOK, `{"action":"buy","confidence":0.8,"rationale":"trend up"}`, &hits)
	cfg := loadConfig(t, model.URL, klineServer(t).URL, "")

	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	outcomes, err := a.Advisor().RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].Decision)
	assert.Equal(t, "buy", string(outcomes[0].Decision.Action))
	assert.Equal(t, 139.0, outcomes[0].Condition.Price)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	recs, err := a.DecisionLog().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "network", recs[0].Provenance)
	assert.Equal(t, "BTC/USDT", recs[0].Symbol)

	require.NotNil(t, a.OpsServer())
	rec := get(t, a.OpsServer().Handler(), http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "stats.successful_requests").Int())
}

func TestApp_BreakerOpensAfterFailures(t *testing.T) {
	var hits int32
	model := modelServer(t, http.StatusServiceUnavailable, "", &hits)
	cfg := loadConfig(t, model.URL, klineServer(t).URL, "breaker:\n  failure_threshold: 1\n  open_timeout_seconds: 600\n")

	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	first, err := a.Advisor().RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, first[0].Decision)
	assert.Equal(t, reasoning.ReasonRetriesExhausted, first[0].Decision.Reason)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	second, err := a.Advisor().RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, second[0].Decision)
	assert.Equal(t, reasoning.ReasonBreakerOpen, second[0].Decision.Reason)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "open breaker must not reach the endpoint")

	snap := a.Orchestrator().Stats()
	assert.Equal(t, uint64(2), snap.FallbackRequests)
	assert.Equal(t, uint64(1), snap.BreakerRejections)

	rec := get(t, a.OpsServer().Handler(), http.MethodGet, "/api/breaker")
	assert.Equal(t, "open", gjson.Get(rec.Body.String(), "breaker.state").String())
	rec = get(t, a.OpsServer().Handler(), http.MethodGet, "/api/decisions/summary")
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "by_provenance.fallback").Int())
}

func TestApp_FileBackedRulesCanBeReloaded(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("profile:\n  name: desk\n  rules:\n    - name: always-hold\n      when: [{field: price, op: gt, value: 0}]\n      action: hold\n      confidence: 0.5\n      rationale: quiet\n"), 0o644))
	var hits int32
	model := modelServer(t, http.StatusOK, "not json at all", &hits)
	cfg := loadConfig(t, model.URL, klineServer(t).URL,
		fmt.Sprintf("fallback:\n  rules_path: %s\n", rules))
	cfg.Reasoning.StructuredOutput = false

	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	outcomes, err := a.Advisor().RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcomes[0].Decision)
	assert.Equal(t, "always-hold", outcomes[0].Decision.Rule)
	assert.Equal(t, "invalid-payload", string(outcomes[0].Decision.Reason))

	rec := get(t, a.OpsServer().Handler(), http.MethodPost, "/api/fallback/reload")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "reloads").Int())
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	var hits int32
	model := modelServer(t, http.StatusOK, `{"action":"hold","confidence":0.5,"rationale":"flat"}`, &hits)
	cfg := loadConfig(t, model.URL, klineServer(t).URL, "")
	a, err := NewApp(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestNewApp_NilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestStartupSummary_MasksKey(t *testing.T) {
	cfg := loadConfig(t, "http://127.0.0.1:1", "http://127.0.0.1:1", "")
	var buf bytes.Buffer
	newStartupSummary(cfg).Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "test-model")
	assert.Contains(t, out, "BTC/USDT")
	assert.Contains(t, out, "****6789")
	assert.NotContains(t, out, "sk-test-0123456789")
}

func TestApp_BreakerOpenIsPushedToTelegram(t *testing.T) {
	var hits int32
	model := modelServer(t, http.StatusServiceUnavailable, "", &hits)
	texts := make(chan string, 4)
	tg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		texts <- body.Text
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(tg.Close)
	cfg := loadConfig(t, model.URL, klineServer(t).URL, fmt.Sprintf(`breaker:
  failure_threshold: 1
  open_timeout_seconds: 600
notify:
  enabled: true
  telegram_bot_token: tok
  telegram_chat_id: ops
  telegram_api_base: %s
  min_interval_seconds: 0
`, tg.URL))

	a, err := NewApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Advisor().RunOnce(context.Background())
	require.NoError(t, err)

	select {
	case text := <-texts:
		assert.Contains(t, text, "Circuit reasoning OPEN")
	case <-time.After(5 * time.Second):
		t.Fatal("no breaker alert delivered")
	}
	a.alerts.Wait()
}

func TestAlertMessage_ByKind(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	auth := alertMessage("t-1", reasoning.StatusError(401, 0, "bad key"), at)
	assert.Equal(t, "Reasoning credentials rejected", auth.Title)

	crit := alertMessage("t-2", &reasoning.Error{Kind: reasoning.KindCritical, Message: "endpoint not configured"}, at)
	assert.Equal(t, "Reasoning critical failure", crit.Title)
	assert.Contains(t, crit.Render(), "endpoint not configured")

	assert.Equal(t, "Reasoning critical failure", alertMessage("t-3", nil, at).Title)
}
