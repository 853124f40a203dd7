package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"decisiongate/internal/fallback"
	"decisiongate/internal/pkg/backoff"
	"decisiongate/internal/pkg/circuit"
	"decisiongate/internal/reasoning"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*ClientConfig)) (*OpenAIChatClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := ClientConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test-1234", HTTPClient: srv.Client()}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewOpenAIChatClient(cfg)
	require.NoError(t, err)
	return c, srv
}

func testRequest(t *testing.T, opts ...reasoning.RequestOption) reasoning.Request {
	t.Helper()
	base := []reasoning.RequestOption{reasoning.WithSystem("sys"), reasoning.WithUser("usr")}
	req, err := reasoning.NewRequest("deepseek-chat", append(base, opts...)...)
	require.NoError(t, err)
	return req
}

func TestComplete_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-1234", r.Header.Get("Authorization"))
		assert.Equal(t, "decisiongate-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body := gjson.ParseBytes(raw)
		assert.Equal(t, "deepseek-chat", body.Get("model").String())
		assert.Equal(t, "system", body.Get("messages.0.role").String())
		assert.Equal(t, "usr", body.Get("messages.1.content").String())
		assert.Equal(t, "json_object", body.Get("response_format.type").String())
		assert.Equal(t, 0.1, body.Get("temperature").Float())
		assert.Equal(t, int64(256), body.Get("max_tokens").Int())

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"{\"action\":\"buy\"}"}}]}`)
	}, func(cfg *ClientConfig) {
		cfg.UserAgent = "decisiongate-test"
		cfg.Headers = map[string]string{"OpenAI-Organization": "org-1"}
	})

	out, err := c.Complete(context.Background(), testRequest(t,
		reasoning.WithStructuredOutput(), reasoning.WithTemperature(0.1), reasoning.WithMaxTokens(256)))
	require.NoError(t, err)
	assert.Equal(t, `{"action":"buy"}`, out)
}

func TestComplete_OmitsUnsetOptionalFields(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := gjson.ParseBytes(raw)
		assert.False(t, body.Get("temperature").Exists())
		assert.False(t, body.Get("max_tokens").Exists())
		assert.False(t, body.Get("response_format").Exists())
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"plain"}}]}`)
	}, nil)

	out, err := c.Complete(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestComplete_StatusClassification(t *testing.T) {
	cases := []struct {
		name       string
		status     int
		header     string
		body       string
		kind       reasoning.Kind
		retryAfter time.Duration
		message    string
	}{
		{"unauthorized", 401, "", `{"error":{"message":"Incorrect API key"}}`, reasoning.KindAuthentication, 0, "Incorrect API key"},
		{"throttled", 429, "3", `{"error":{"message":"Rate limit reached"}}`, reasoning.KindRateLimit, 3 * time.Second, "Rate limit reached"},
		{"bad request", 400, "", `{"error":{"message":"bad model"}}`, reasoning.KindAPI, 0, "bad model"},
		{"server error", 502, "", `<html>bad gateway</html>`, reasoning.KindAPI, 0, "502 Bad Gateway"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}, nil)

			_, err := c.Complete(context.Background(), testRequest(t))
			var rerr *reasoning.Error
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tc.kind, rerr.Kind)
			assert.Equal(t, tc.status, rerr.Status)
			assert.Equal(t, tc.retryAfter, rerr.RetryAfter)
			assert.Equal(t, tc.message, rerr.Message)
		})
	}
}

func TestComplete_MalformedSuccessBody(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      "hello",
		"empty choices": `{"choices":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}, nil)
			_, err := c.Complete(context.Background(), testRequest(t))
			assert.Equal(t, reasoning.KindSerialization, reasoning.Classify(err).Kind)
		})
	}
}

func TestComplete_DeadlineIsTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, testRequest(t))
	require.Error(t, err)
	assert.Equal(t, reasoning.KindTimeout, reasoning.Classify(err).Kind)
}

func TestComplete_RateLimiterHonoursContext(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}, func(cfg *ClientConfig) {
		cfg.RatePerSecond = 0.01
		cfg.RateBurst = 1
	})

	_, err := c.Complete(context.Background(), testRequest(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, testRequest(t))
	require.Error(t, err)
	assert.Equal(t, reasoning.KindTimeout, reasoning.Classify(err).Kind)
	assert.Equal(t, int32(1), hits.Load())

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	err = c.Throttle(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_LocalThrottlingDoesNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}, func(cfg *ClientConfig) {
		cfg.RatePerSecond = 0.01
		cfg.RateBurst = 1
	})
	cb := circuit.NewCircuitBreaker("reasoning", circuit.Settings{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      time.Minute,
	}, nil)
	cb.SetStateChangeHandler(func(string, circuit.State, circuit.State) {})
	orch, err := reasoning.NewOrchestrator(c, reasoning.Options{
		Policy:         backoff.Policy{MaxRetries: 2},
		AttemptTimeout: time.Second,
		Breaker:        cb,
		Fallback:       fallback.MustEngine(fallback.Balanced()),
	})
	require.NoError(t, err)

	res, err := orch.Execute(context.Background(), testRequest(t), fallback.MarketCondition{Price: 1})
	require.NoError(t, err)
	require.True(t, res.FromNetwork())

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		res, err = orch.Execute(ctx, testRequest(t), fallback.MarketCondition{Price: 1})
		cancel()
		require.NoError(t, err)
		assert.Equal(t, reasoning.ReasonCancelled, res.Reason)
		assert.Equal(t, 0, res.Attempts)
	}

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, circuit.StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().Failures)
	assert.Equal(t, uint64(0), orch.Stats().RetryAttempts)
}

func TestComplete_UnconfiguredClientIsCritical(t *testing.T) {
	var c *OpenAIChatClient
	_, err := c.Complete(context.Background(), testRequest(t))
	assert.Equal(t, reasoning.KindCritical, reasoning.Classify(err).Kind)
}

func TestNormalizeEndpoint(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"https://api.deepseek.com/v1/", "https://api.deepseek.com/v1/chat/completions"},
		{"https://host/v1/chat/completions", "https://host/v1/chat/completions"},
		{" http://127.0.0.1:8080/compatible-mode/v1 ", "http://127.0.0.1:8080/compatible-mode/v1/chat/completions"},
	}
	for _, tc := range cases {
		got, err := normalizeEndpoint(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
	for _, bad := range []string{"ftp://host", "api.openai.com/v1", "://"} {
		_, err := normalizeEndpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestOrchestratorOverHTTP(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"{\"action\":\"hold\",\"confidence\":0.4,\"rationale\":\"flat\"}"}}]}`)
	}, nil)

	orch, err := reasoning.NewOrchestrator(c, reasoning.Options{
		Policy:   backoff.Policy{MaxRetries: 3},
		Fallback: fallback.MustEngine(fallback.Balanced()),
	})
	require.NoError(t, err)

	res, err := orch.Execute(context.Background(), testRequest(t, reasoning.WithStructuredOutput()), fallback.MarketCondition{Price: 1})
	require.NoError(t, err)
	assert.True(t, res.FromNetwork())
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "hold", gjson.Get(res.Payload, "action").String())

	hits.Store(-100)
	orch2, err := reasoning.NewOrchestrator(c, reasoning.Options{Policy: backoff.Policy{MaxRetries: 1}})
	require.NoError(t, err)
	_, err = orch2.Execute(context.Background(), testRequest(t), fallback.MarketCondition{Price: 1})
	var rerr *reasoning.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusServiceUnavailable, rerr.Status)
}
