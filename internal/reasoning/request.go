package reasoning

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is immutable once built; every accessor returns a copy.
type Request struct {
	model       string
	messages    []Message
	temperature float64
	hasTemp     bool
	maxTokens   int
	structured  bool
	timeout     time.Duration
	maxRetries  int
	hasRetries  bool
}

type RequestOption func(*Request)

func WithSystem(content string) RequestOption {
	return WithMessages(Message{Role: RoleSystem, Content: content})
}

func WithUser(content string) RequestOption {
	return WithMessages(Message{Role: RoleUser, Content: content})
}

// WithMessages appends msgs in order.
func WithMessages(msgs ...Message) RequestOption {
	return func(r *Request) { r.messages = append(r.messages, msgs...) }
}

// WithTemperature sets sampling temperature, valid range [0,2].
func WithTemperature(t float64) RequestOption {
	return func(r *Request) { r.temperature, r.hasTemp = t, true }
}

func WithMaxTokens(n int) RequestOption {
	return func(r *Request) { r.maxTokens = n }
}

// WithStructuredOutput asks for a JSON object reply; non-JSON replies fail.
func WithStructuredOutput() RequestOption {
	return func(r *Request) { r.structured = true }
}

// WithFreeformOutput clears structured mode for endpoints without
// response_format support; callers then extract JSON themselves.
func WithFreeformOutput() RequestOption {
	return func(r *Request) { r.structured = false }
}

// WithTimeout overrides the orchestrator's per-attempt timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *Request) { r.timeout = d }
}

// WithMaxRetries overrides the policy's retry count for this call only.
func WithMaxRetries(n int) RequestOption {
	return func(r *Request) { r.maxRetries, r.hasRetries = n, true }
}

func NewRequest(model string, opts ...RequestOption) (Request, error) {
	r := Request{model: strings.TrimSpace(model)}
	for _, opt := range opts {
		if opt != nil {
			opt(&r)
		}
	}
	r.messages = append([]Message(nil), r.messages...)
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	return r, nil
}

// Validate is also run by the orchestrator, so a zero Request is rejected.
func (r Request) Validate() error {
	if r.model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if len(r.messages) == 0 {
		return fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	}
	for i, m := range r.messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message #%d has unknown role %q", ErrInvalidRequest, i+1, m.Role)
		}
	}
	if r.hasTemp && (math.IsNaN(r.temperature) || r.temperature < 0 || r.temperature > 2) {
		return fmt.Errorf("%w: temperature %.2f outside [0,2]", ErrInvalidRequest, r.temperature)
	}
	if r.maxTokens < 0 {
		return fmt.Errorf("%w: negative max tokens", ErrInvalidRequest)
	}
	if r.timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidRequest)
	}
	if r.hasRetries && r.maxRetries < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidRequest)
	}
	return nil
}

func (r Request) Model() string { return r.model }

func (r Request) Messages() []Message { return append([]Message(nil), r.messages...) }

// Temperature reports ok=false when the provider default should be used.
func (r Request) Temperature() (float64, bool) { return r.temperature, r.hasTemp }

func (r Request) MaxTokens() int { return r.maxTokens }

func (r Request) Structured() bool { return r.structured }

func (r Request) Timeout() time.Duration { return r.timeout }

func (r Request) MaxRetries() (int, bool) { return r.maxRetries, r.hasRetries }
