package advisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"decisiongate/internal/decision"
	"decisiongate/internal/fallback"
	"decisiongate/internal/market"
	"decisiongate/internal/pkg/backoff"
	"decisiongate/internal/reasoning"
	"decisiongate/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func (f *fakeSource) FetchHistory(_ context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[sym]++
	if err := f.fail[sym]; err != nil {
		return nil, err
	}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, limit)
	for i := range out {
		c := 100 + float64(i)
		out[i] = market.Candle{OpenTime: start.Add(time.Duration(i) * time.Hour).UnixMilli(), Close: c, Volume: 5}
	}
	return out, nil
}

type memorySink struct {
	mu   sync.Mutex
	recs []store.DecisionRecord
}

func (m *memorySink) Append(_ context.Context, rec *store.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *memorySink) records() []store.DecisionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DecisionRecord(nil), m.recs...)
}

func (m *memorySink) bySymbol(sym string) store.DecisionRecord {
	for _, r := range m.records() {
		if r.Symbol == sym {
			return r
		}
	}
	return store.DecisionRecord{}
}

func newOrchestrator(t *testing.T, fn reasoning.TransportFunc, withFallback bool) *reasoning.Orchestrator {
	t.Helper()
	opts := reasoning.Options{Policy: backoff.Policy{MaxRetries: 1}}
	if withFallback {
		opts.Fallback = fallback.MustEngine(fallback.Balanced())
	}
	o, err := reasoning.NewOrchestrator(fn, opts)
	require.NoError(t, err)
	return o
}

func baseSettings(symbols ...string) Settings {
	return Settings{
		Model:       "test-model",
		Symbols:     symbols,
		Interval:    "1h",
		CandleLimit: 40,
		Concurrency: 2,
		Every:       time.Minute,
	}
}

func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string { return fmt.Sprintf("trace-%d", n.Add(1)) }
}

func TestRunOnce_ModelDecisions(t *testing.T) {
	var seen sync.Map
	orch := newOrchestrator(t, func(ctx context.Context, req reasoning.Request) (string, error) {
		msgs := req.Messages()
		seen.Store(reasoning.TraceIDFrom(ctx), msgs[1].Content)
		return `{"action":"buy","confidence":0.66,"rationale":"trend intact"}`, nil
	}, true)
	sink := &memorySink{}
	adv, err := New(orch, &fakeSource{}, sink, baseSettings("BTC/USDT", "ETH/USDT"), WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)

	outcomes, err := adv.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NotNil(t, o.Decision, o.Symbol)
		assert.Equal(t, decision.SourceModel, o.Decision.Source)
		assert.Equal(t, fallback.ActionBuy, o.Decision.Action)
		assert.Equal(t, 139.0, o.Condition.Price)
		assert.Empty(t, o.Error)
		prompt, ok := seen.Load(o.TraceID)
		require.True(t, ok, "trace id propagated to the transport")
		assert.Contains(t, prompt, "Symbol: "+o.Symbol)
	}

	recs := sink.records()
	require.Len(t, recs, 2)
	btc := sink.bySymbol("BTC/USDT")
	assert.Equal(t, "network", btc.Provenance)
	assert.Equal(t, "buy", btc.Action)
	assert.Equal(t, 0.66, btc.Confidence)
	assert.Equal(t, 1, btc.Attempts)
	assert.Equal(t, 139.0, gjson.GetBytes(btc.Condition, "price").Float())

	assert.Equal(t, 1, adv.Runs())
	latest := adv.Latest()
	require.Len(t, latest, 2)
	assert.Equal(t, "BTC/USDT", latest[0].Symbol)
}

func TestRunOnce_FallbackWhenAPIDown(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		return "", reasoning.StatusError(503, 0, "")
	}, true)
	sink := &memorySink{}
	adv, err := New(orch, &fakeSource{}, sink, baseSettings("BTC/USDT"))
	require.NoError(t, err)

	outcomes, err := adv.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcomes[0].Decision)
	assert.Equal(t, decision.SourceFallback, outcomes[0].Decision.Source)
	assert.Equal(t, reasoning.ReasonRetriesExhausted, outcomes[0].Decision.Reason)

	rec := sink.bySymbol("BTC/USDT")
	assert.Equal(t, "fallback", rec.Provenance)
	assert.Equal(t, "retries-exhausted", rec.Reason)
	assert.Equal(t, 2, rec.Attempts)
	assert.NotEmpty(t, rec.Rule)
}

func TestRunOnce_InvalidPayloadUsesLocalRules(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		return `{"action":"moon","confidence":2}`, nil
	}, true)
	sink := &memorySink{}
	adv, err := New(orch, &fakeSource{}, sink, baseSettings("BTC/USDT"),
		WithLocalDecider(fallback.MustEngine(fallback.Conservative())))
	require.NoError(t, err)

	outcomes, err := adv.RunOnce(context.Background())
	require.NoError(t, err)
	o := outcomes[0]
	require.NotNil(t, o.Decision)
	assert.Equal(t, decision.SourceFallback, o.Decision.Source)
	assert.Equal(t, decision.ReasonInvalidPayload, o.Decision.Reason)
	assert.Equal(t, "conservative", o.Decision.Profile)
	assert.NotEmpty(t, o.Error)

	rec := sink.bySymbol("BTC/USDT")
	assert.Equal(t, "network", rec.Provenance)
	assert.Equal(t, "invalid-payload", rec.Reason)
}

func TestRunOnce_InvalidPayloadWithoutLocalRules(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		return `{"verdict":"up"}`, nil
	}, true)
	sink := &memorySink{}
	adv, err := New(orch, &fakeSource{}, sink, baseSettings("BTC/USDT"))
	require.NoError(t, err)

	outcomes, err := adv.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, outcomes[0].Decision)
	assert.Equal(t, "none", sink.bySymbol("BTC/USDT").Action)
}

func TestRunOnce_PerSymbolFailuresAreIsolated(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		return `{"action":"hold","confidence":0.4,"rationale":"range"}`, nil
	}, true)
	src := &fakeSource{fail: map[string]error{"ETH/USDT": errors.New("exchange down")}}
	sink := &memorySink{}
	adv, err := New(orch, src, sink, baseSettings("BTC/USDT", "ETH/USDT", "SOL/USDT"))
	require.NoError(t, err)

	outcomes, err := adv.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.NotNil(t, outcomes[0].Decision)
	assert.Nil(t, outcomes[1].Decision)
	assert.Contains(t, outcomes[1].Error, "exchange down")
	assert.NotNil(t, outcomes[2].Decision)
	assert.Len(t, sink.records(), 2, "no audit row without a market snapshot")
}

func TestRunOnce_CriticalErrorIsAudited(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		return "", reasoning.StatusError(503, 0, "")
	}, false)
	sink := &memorySink{}
	adv, err := New(orch, &fakeSource{}, sink, baseSettings("BTC/USDT"))
	require.NoError(t, err)

	outcomes, err := adv.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, outcomes[0].Decision)
	rec := sink.bySymbol("BTC/USDT")
	assert.Equal(t, "failed", rec.Provenance)
	assert.Equal(t, "none", rec.Action)
	assert.Contains(t, rec.Error, "503")
}

func TestRunOnce_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return `{"action":"hold","confidence":0.4,"rationale":"range"}`, nil
	}, true)
	settings := baseSettings("A/USDT", "B/USDT", "C/USDT", "D/USDT", "E/USDT", "F/USDT")
	settings.Concurrency = 2
	adv, err := New(orch, &fakeSource{}, &memorySink{}, settings)
	require.NoError(t, err)

	_, err = adv.RunOnce(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_AlignedSchedule(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) {
		return `{"action":"hold","confidence":0.4,"rationale":"range"}`, nil
	}, true)
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))
	settings := baseSettings("BTC/USDT")
	settings.RunImmediately = true
	adv, err := New(orch, &fakeSource{}, &memorySink{}, settings, WithClock(mock))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- adv.Run(ctx) }()

	require.Eventually(t, func() bool { return adv.Runs() >= 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return adv.Runs() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_RejectsZeroInterval(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) { return "", nil }, true)
	settings := baseSettings("BTC/USDT")
	settings.Every = 0
	adv, err := New(orch, &fakeSource{}, nil, settings)
	require.NoError(t, err)
	assert.Error(t, adv.Run(context.Background()))
}

func TestNew_Validation(t *testing.T) {
	orch := newOrchestrator(t, func(context.Context, reasoning.Request) (string, error) { return "", nil }, true)
	_, err := New(nil, &fakeSource{}, nil, baseSettings("BTC/USDT"))
	assert.Error(t, err)
	_, err = New(orch, nil, nil, baseSettings("BTC/USDT"))
	assert.Error(t, err)
	_, err = New(orch, &fakeSource{}, nil, baseSettings())
	assert.Error(t, err)
}

func TestNextAligned(t *testing.T) {
	at := func(h, m, s int) time.Time { return time.Date(2026, 1, 1, h, m, s, 0, time.UTC) }
	assert.Equal(t, at(1, 0, 0), nextAligned(at(0, 30, 0), time.Hour, 0))
	assert.Equal(t, at(1, 0, 10), nextAligned(at(0, 30, 0), time.Hour, 10*time.Second))
	assert.Equal(t, at(0, 0, 10), nextAligned(at(0, 0, 5), time.Hour, 10*time.Second))
	assert.Equal(t, at(1, 0, 0), nextAligned(at(0, 0, 0), time.Hour, 0), "exact boundary waits a full period")
}
