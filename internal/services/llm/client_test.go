package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aco/internal/services"
)

func completionServer(t *testing.T, choice map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"choices": []any{choice}}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func messageChoice(content string) map[string]any {
	return map[string]any{"message": map[string]any{"content": content}}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "demo-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if req.ResponseFormat["type"] != "json_object" {
			t.Errorf("expected json response format, got %v", req.ResponseFormat)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{messageChoice(`{"ok":true}`)}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckCodeFence(t *testing.T) {
	server := completionServer(t, messageChoice("```json\n{\"ok\":true}\n```"))
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestClientDefaultsToGemini(t *testing.T) {
	client := NewClient(Config{APIKey: "test"})
	if client.cfg.BaseURL != DefaultBaseURL {
		t.Fatalf("unexpected base url %q", client.cfg.BaseURL)
	}
	if client.Model() != DefaultModel {
		t.Fatalf("unexpected model %q", client.Model())
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.Complete(context.Background(), Request{Prompt: "hello"})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestClientCompleteJSONToolCallsArguments(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "tool_calls",
		"message": map[string]any{
			"content": "",
			"tool_calls": []any{
				map[string]any{
					"type": "function",
					"id":   "call_1",
					"function": map[string]any{
						"name":      "emit_plan",
						"arguments": `{"scripts":[]}`,
					},
				},
			},
		},
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"scripts":[]}` {
		t.Fatalf("expected tool call arguments, got %q", content)
	}
}

func TestClientStatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
		marker  error
	}{
		{name: "rejected key", status: http.StatusUnauthorized, body: `{"error":{"message":"API key not valid"}}`, message: "API key not valid", marker: services.ErrConfiguration},
		{name: "array envelope", status: http.StatusForbidden, body: `[{"error":{"message":"permission denied"}}]`, message: "permission denied", marker: services.ErrConfiguration},
		{name: "unknown model", status: http.StatusNotFound, body: `{"error":{"message":"model not found"}}`, message: "model not found", marker: services.ErrConfiguration},
		{name: "rate limited", status: http.StatusTooManyRequests, body: "slow down", message: "slow down", marker: services.ErrUpstream},
		{name: "server error", status: http.StatusBadGateway, body: "", message: "<empty>", marker: services.ErrUpstream},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
			_, err := client.Complete(context.Background(), Request{Prompt: "hi"})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.message {
				t.Fatalf("unexpected api error %+v", apiErr)
			}
			if wrapped := WrapError("chat", "reply", err); !errors.Is(wrapped, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, wrapped)
			}
		})
	}
}

func TestClientEmptyContentHasSnippet(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "stop",
		"message":       map[string]any{"content": ""},
	})

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if !strings.Contains(err.Error(), "empty reply") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
}

func TestClientDoesNotRetryByDefault(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL}, WithSleeper(func(time.Duration) {}))
	if _, err := client.Complete(context.Background(), Request{Prompt: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{messageChoice(`{"ok":true}`)}})
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := ""
		if calls >= 3 {
			content = "done"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{
			map[string]any{"finish_reason": "stop", "message": map[string]any{"content": content}},
		}})
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	content, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if content != "done" || calls != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", content, calls)
	}
}

func TestClientSendsHistoryAndAttachments(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{messageChoice("ok")}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, MaxOutputTokens: 512})
	_, err := client.Complete(context.Background(), Request{
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "first"}, {Role: RoleAssistant, Content: "reply"}},
		Prompt:   "describe",
		Attachments: []Attachment{
			{Name: "protocol.txt", MIMEType: "text/plain", Data: []byte("10x v3 chemistry")},
			{Name: "gel.png", MIMEType: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47}},
		},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if captured["max_tokens"] != float64(512) {
		t.Fatalf("expected configured max tokens, got %v", captured["max_tokens"])
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 4 {
		t.Fatalf("expected system, two history turns, and prompt; got %d messages", len(messages))
	}
	if role := messages[2].(map[string]any)["role"]; role != "assistant" {
		t.Fatalf("expected assistant history turn, got %v", role)
	}
	parts, ok := messages[3].(map[string]any)["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected text and image parts, got %#v", messages[3])
	}
	text := parts[0].(map[string]any)["text"].(string)
	if !strings.Contains(text, "--- Document: protocol.txt ---") || !strings.Contains(text, "10x v3 chemistry") {
		t.Fatalf("expected inlined document, got %q", text)
	}
	image := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if !strings.HasPrefix(image, "data:image/png;base64,") {
		t.Fatalf("expected data url, got %q", image)
	}
}

func TestNewLimiterDisabledWhenUnset(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Fatal("expected nil limiter for zero rate")
	}
	if l := NewLimiter(60); l == nil || l.Burst() != 1 {
		t.Fatalf("expected burst-1 limiter, got %v", l)
	}
}

func TestRetryAfterHeader(t *testing.T) {
	if d, ok := retryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("unexpected seconds parse: %v %v", d, ok)
	}
	if _, ok := retryAfter("soon"); ok {
		t.Fatal("expected garbage to be rejected")
	}
}

func TestProviderResolvesKeyPerRequest(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{messageChoice("ok")}})
	}))
	defer server.Close()

	provider := NewProvider(Config{BaseURL: server.URL}, func(override string) (string, string, error) {
		if override != "" {
			return override, "request", nil
		}
		return "stored", "credentials_file", nil
	})
	for _, override := range []string{"", "mine"} {
		client, err := provider.Client(override)
		if err != nil {
			t.Fatalf("Client(%q): %v", override, err)
		}
		if _, err := client.Complete(context.Background(), Request{Prompt: "hi"}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	if len(seen) != 2 || seen[0] != "Bearer stored" || seen[1] != "Bearer mine" {
		t.Fatalf("unexpected authorization headers %v", seen)
	}

	failing := NewProvider(Config{}, func(string) (string, string, error) { return "", "", ErrNoAPIKey })
	if _, err := failing.Client(""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}
