package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"aco/internal/services/llm"
)

// FakeLLM is an OpenAI-compatible chat completions server that replies with
// queued message contents in order. When the queue is empty it answers 500.
type FakeLLM struct {
	Server *httptest.Server

	mu       sync.Mutex
	replies  []string
	requests []map[string]any
}

// NewFakeLLM starts a fake completion server that is closed on test cleanup.
func NewFakeLLM(t testing.TB, replies ...string) *FakeLLM {
	t.Helper()
	f := &FakeLLM{replies: append([]string(nil), replies...)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Server.Close)
	return f
}

// Queue appends replies.
func (f *FakeLLM) Queue(replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Requests returns the decoded request bodies received so far.
func (f *FakeLLM) Requests() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

// Calls returns how many completions were requested.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Client returns a client bound to the fake server.
func (f *FakeLLM) Client() *llm.Client {
	return llm.NewClient(llm.Config{APIKey: "test", BaseURL: f.Server.URL, Model: "fake-model"})
}

// Source returns an llm.Source that always hands out Client.
func (f *FakeLLM) Source() llm.Source {
	return llm.Static{Completer: f.Client()}
}

func (f *FakeLLM) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)

	f.mu.Lock()
	f.requests = append(f.requests, decoded)
	if len(f.replies) == 0 {
		f.mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"no reply queued"}`))
		return
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": reply},
		}},
	})
}

// PromptText returns the text of the last user message in a captured request.
func PromptText(req map[string]any) string {
	messages, _ := req["messages"].([]any)
	if len(messages) == 0 {
		return ""
	}
	last, _ := messages[len(messages)-1].(map[string]any)
	switch content := last["content"].(type) {
	case string:
		return content
	case []any:
		for _, part := range content {
			if p, ok := part.(map[string]any); ok && p["type"] == "text" {
				text, _ := p["text"].(string)
				return text
			}
		}
	}
	return ""
}

// SystemText returns the system message of a captured request.
func SystemText(req map[string]any) string {
	messages, _ := req["messages"].([]any)
	for _, m := range messages {
		msg, _ := m.(map[string]any)
		if msg["role"] == "system" {
			text, _ := msg["content"].(string)
			return text
		}
	}
	return ""
}
