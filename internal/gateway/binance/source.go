package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"decisiongate/internal/logger"
	"decisiongate/internal/market"
	"decisiongate/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/cenkalti/backoff/v4"
)

const maxHistoryLimit = 1500

// Binance error codes worth another attempt: disconnected, too many
// requests, backend timeout.
var transientCodes = map[int64]bool{-1001: true, -1003: true, -1007: true}

// Source 基于 go-binance SDK 的 U 本位合约 K 线实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time
}

func New(cfg Config) *Source {
	return NewWithHTTPClient(cfg, nil)
}

// NewWithHTTPClient 允许注入自定义 http.Client（测试或代理场景）。
func NewWithHTTPClient(cfg Config, httpc *http.Client) *Source {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	if httpc == nil {
		httpc = &http.Client{Timeout: final.HTTPTimeout}
	}
	client.HTTPClient = httpc
	return &Source{cfg: final, client: client, now: time.Now}
}

// FetchHistory returns up to limit closed candles, oldest first.
func (s *Source) FetchHistory(ctx context.Context, sym, interval string, limit int) ([]market.Candle, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("binance source not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	exchangeSymbol := symbol.ToBinance(sym)
	if exchangeSymbol == "" {
		return nil, fmt.Errorf("invalid symbol: %q", sym)
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	step, ok := market.ParseInterval(interval)
	if !ok {
		return nil, fmt.Errorf("invalid interval: %q", interval)
	}

	kls, err := s.fetchWithRetry(ctx, exchangeSymbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s klines: %w", sym, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c, err := convertKline(kl)
		if err != nil {
			return nil, fmt.Errorf("%s %s kline @%d: %w", sym, interval, kl.OpenTime, err)
		}
		out = append(out, c)
	}
	return market.DropUnclosed(out, step, s.now().UTC(), s.cfg.KlineGrace), nil
}

func (s *Source) fetchWithRetry(ctx context.Context, exchangeSymbol, interval string, limit int) ([]*futures.Kline, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.RetryInitial
	policy.MaxInterval = s.cfg.RetryMax
	policy.MaxElapsedTime = 0
	limited := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.MaxRetries)), ctx)

	op := func() ([]*futures.Kline, error) {
		kls, err := s.client.NewKlinesService().
			Symbol(exchangeSymbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
		if err == nil {
			return kls, nil
		}
		if ctx.Err() != nil || !transient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnf("binance klines %s %s failed, retry in %s: %v", exchangeSymbol, interval, wait, err)
	}
	return backoff.RetryNotifyWithData(op, limited, notify)
}

// transient reports whether a klines failure may succeed on retry.
// Coded API errors are permanent unless throttling or backend timeouts;
// uncoded ones come from 5xx pages and network failures.
func transient(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 0 || transientCodes[apiErr.Code]
	}
	return true
}

func convertKline(kl *futures.Kline) (market.Candle, error) {
	c := market.Candle{
		OpenTime:  kl.OpenTime,
		CloseTime: kl.CloseTime,
		Trades:    kl.TradeNum,
	}
	var err error
	if c.Open, err = market.ParsePrice(kl.Open); err != nil {
		return c, err
	}
	if c.High, err = market.ParsePrice(kl.High); err != nil {
		return c, err
	}
	if c.Low, err = market.ParsePrice(kl.Low); err != nil {
		return c, err
	}
	if c.Close, err = market.ParsePrice(kl.Close); err != nil {
		return c, err
	}
	if c.Volume, err = market.ParsePrice(kl.Volume); err != nil {
		return c, err
	}
	return c, nil
}
