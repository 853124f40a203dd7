package provider

import (
	"net/http"
	"time"

	"decisiongate/internal/config"
)

// ClientConfig 描述单个兼容 OpenAI 的推理端点。
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	UserAgent     string
	Headers       map[string]string
	RatePerSecond float64
	RateBurst     int
	HTTPClient    *http.Client
}

// FromConfig builds a client from the reasoning section. Per-attempt
// deadlines come from the orchestrator's context, so the http.Client has no
// timeout of its own beyond a generous transport ceiling.
func FromConfig(cfg config.ReasoningConfig) (*OpenAIChatClient, error) {
	return NewOpenAIChatClient(ClientConfig{
		BaseURL:       cfg.Endpoint,
		APIKey:        cfg.APIKey,
		UserAgent:     cfg.UserAgent,
		Headers:       cfg.Headers,
		RatePerSecond: cfg.RateLimitPerSec,
		RateBurst:     cfg.RateLimitBurst,
		HTTPClient:    &http.Client{Timeout: 2 * time.Duration(cfg.TimeoutSeconds) * time.Second},
	})
}
