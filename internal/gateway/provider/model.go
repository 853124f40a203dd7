package provider

import "decisiongate/internal/reasoning"

// chatRequest 是 /chat/completions 的请求体。
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

func buildChatRequest(req reasoning.Request) chatRequest {
	msgs := req.Messages()
	body := chatRequest{
		Model:     req.Model(),
		Messages:  make([]chatMessage, 0, len(msgs)),
		MaxTokens: req.MaxTokens(),
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if t, ok := req.Temperature(); ok {
		body.Temperature = &t
	}
	if req.Structured() {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}
