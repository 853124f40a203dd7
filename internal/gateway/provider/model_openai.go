package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"decisiongate/internal/logger"
	"decisiongate/internal/reasoning"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// 中文说明：
// OpenAIChatClient：兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// 每次 Complete 只发一次 HTTP 请求，重试交给 reasoning.Orchestrator。

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultUserAgent = "decisiongate/1.0"
	maxResponseBytes = 4 << 20
)

type OpenAIChatClient struct {
	endpoint  string
	apiKey    string
	userAgent string
	headers   map[string]string
	httpc     *http.Client
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewOpenAIChatClient 校验 BaseURL 并规范化为 .../chat/completions。
func NewOpenAIChatClient(cfg ClientConfig) (*OpenAIChatClient, error) {
	endpoint, err := normalizeEndpoint(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	c := &OpenAIChatClient{
		endpoint:  endpoint,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: ua,
		headers:   headers,
		httpc:     httpc,
		now:       time.Now,
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c, nil
}

func normalizeEndpoint(base string) (string, error) {
	// 规范化 BaseURL，避免用户把完整的 /chat/completions 也写进了配置导致重复路径
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid reasoning endpoint %q: %w", base, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid reasoning endpoint %q: need http(s)://host", base)
	}
	return base + "/chat/completions", nil
}

func (c *OpenAIChatClient) Endpoint() string { return c.endpoint }

// Throttle waits on the client's rate limiter without starting an attempt.
func (c *OpenAIChatClient) Throttle(ctx context.Context) error {
	if c == nil || c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return limiterError(ctx, err)
	}
	return nil
}

// limiterError 区分调用方取消与“等待会超过期限”，后者按超时处理。
func limiterError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &reasoning.Error{Kind: reasoning.KindTimeout, Message: "rate limiter wait exceeds deadline", Err: err}
}

// Complete performs exactly one HTTP attempt and classifies failures.
func (c *OpenAIChatClient) Complete(ctx context.Context, req reasoning.Request) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", &reasoning.Error{Kind: reasoning.KindCritical, Message: "reasoning client not configured"}
	}
	if c.limiter != nil && !reasoning.Throttled(ctx) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", limiterError(ctx, err)
		}
	}
	traceID := reasoning.TraceIDFrom(ctx)
	body, err := json.Marshal(buildChatRequest(req))
	if err != nil {
		return "", &reasoning.Error{Kind: reasoning.KindCritical, Message: "encode chat request", Err: err}
	}
	c.logRequest(req, traceID, body)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &reasoning.Error{Kind: reasoning.KindCritical, Message: "build chat request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	// 覆盖/补充自定义请求头（若配置中提供）
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}

	if resp.StatusCode/100 != 2 {
		// 非 2xx：尝试解析错误消息
		msg := strings.TrimSpace(gjson.GetBytes(raw, "error.message").String())
		if msg == "" {
			msg = strings.TrimSpace(resp.Status)
		}
		retryAfter := reasoning.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		logger.Warnf("[AI] trace=%s status=%d: %s", traceID, resp.StatusCode, msg)
		return "", reasoning.StatusError(resp.StatusCode, retryAfter, msg)
	}

	if !gjson.ValidBytes(raw) {
		return "", &reasoning.Error{Kind: reasoning.KindSerialization, Status: resp.StatusCode, Message: "response body is not JSON"}
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return "", &reasoning.Error{Kind: reasoning.KindSerialization, Status: resp.StatusCode, Message: "empty choices"}
	}
	out := content.String()
	logger.LogLLMResponse(req.Model(), traceID, out)
	return out, nil
}

func (c *OpenAIChatClient) logRequest(req reasoning.Request, traceID string, body []byte) {
	msgs := req.Messages()
	sections := make([]logger.LLMSection, 0, len(msgs))
	for _, m := range msgs {
		sections = append(sections, logger.LLMSection{Title: string(m.Role), Body: m.Content})
	}
	logger.LogLLMRequest(req.Model(), traceID, sections, string(body))

	// 打印请求（debug 级别；授权头与敏感头做掩码）
	hlog := map[string]string{"Content-Type": "application/json", "User-Agent": c.userAgent}
	if c.apiKey != "" {
		hlog["Authorization"] = "Bearer " + logger.MaskSecret(c.apiKey)
	}
	for k, v := range c.headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = logger.MaskSecret(v)
		}
		hlog[k] = v
	}
	logger.Debugf("[AI] trace=%s 请求: POST %s, headers=%v, bytes=%d", traceID, c.endpoint, hlog, len(body))
}
