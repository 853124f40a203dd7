package notifier

import (
	"fmt"
	"strings"
	"time"
)

const maxMessageLen = 3800

type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelCritical Level = "critical"
)

func (l Level) icon() string {
	switch l {
	case LevelCritical:
		return "🚨"
	case LevelWarn:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Section 是消息中的一个段落，Lines 渲染为列表项。
type Section struct {
	Title string
	Lines []string
}

// Message 描述一条运维告警。
type Message struct {
	Level     Level
	Title     string
	Sections  []Section
	Timestamp time.Time
}

// CriticalAlert reports a reasoning failure that no fallback can cover.
func CriticalAlert(traceID string, err error, at time.Time) Message {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return Message{
		Level: LevelCritical,
		Title: "Reasoning critical failure",
		Sections: []Section{{
			Title: "详情",
			Lines: []string{"trace: " + orUnknown(traceID), "error: " + detail},
		}},
		Timestamp: at,
	}
}

// AuthAlert reports credentials rejected by the provider. Calls keep being
// served by fallback until the key is fixed.
func AuthAlert(traceID string, err error, at time.Time) Message {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return Message{
		Level: LevelCritical,
		Title: "Reasoning credentials rejected",
		Sections: []Section{{
			Title: "详情",
			Lines: []string{"trace: " + orUnknown(traceID), "error: " + detail, "calls are served by fallback until the key is fixed"},
		}},
		Timestamp: at,
	}
}

// BreakerAlert reports a circuit state change.
func BreakerAlert(name, from, to string, at time.Time) Message {
	lvl := LevelInfo
	if to == "open" {
		lvl = LevelWarn
	}
	return Message{
		Level: lvl,
		Title: fmt.Sprintf("Circuit %s %s", orUnknown(name), strings.ToUpper(to)),
		Sections: []Section{{
			Title: "状态",
			Lines: []string{from + " -> " + to},
		}},
		Timestamp: at,
	}
}

// Render 生成 Markdown 文本，超长时截断。
func (m Message) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(m.Level.icon() + " " + m.Title))
	b.WriteString("\n\n")
	for _, sec := range m.Sections {
		lines := nonEmpty(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if t := strings.TrimSpace(sec.Title); t != "" {
			b.WriteString("*" + escape(t) + "*\n")
		}
		b.WriteString("```\n")
		for _, line := range lines {
			b.WriteString("- " + escape(line) + "\n")
		}
		b.WriteString("```\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func escape(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
