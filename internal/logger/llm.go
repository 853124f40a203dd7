package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter routes request/response transcripts to w; nil disables them.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

// EnableLLMPayloadDump adds the raw JSON body to request transcripts.
func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

// LLMSection is one titled block of a transcript entry.
type LLMSection struct {
	Title string
	Body  string
}

func logLLM(kind, model, traceID string, sections []LLMSection) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, tag := range []string{kind, model, traceID} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.ToUpper(strings.TrimSpace(sec.Title))
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

// LogLLMRequest writes one section per chat message, plus the payload when dumping is on.
func LogLLMRequest(model, traceID string, messages []LLMSection, payload string) {
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	sections := append([]LLMSection(nil), messages...)
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, LLMSection{Title: "PAYLOAD", Body: payload})
	}
	logLLM("request", model, traceID, sections)
}

func LogLLMResponse(model, traceID, raw string) {
	logLLM("response", model, traceID, []LLMSection{{Title: "RAW", Body: raw}})
}
