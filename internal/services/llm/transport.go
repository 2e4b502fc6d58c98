package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a reply body is read.
const maxResponseBytes = 8 << 20

// APIError is a non-2xx reply from the completions endpoint.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// emptyReplyError means the call succeeded but the model produced nothing usable.
type emptyReplyError struct {
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyReplyError) Error() string {
	return fmt.Sprintf("llm complete: empty reply (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.FinishReason, e.Refusal, e.Snippet)
}

type completionReply struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content   string `json:"content"`
			Refusal   string `json:"refusal"`
			ToolCalls []struct {
				Function struct {
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// text returns the first non-empty message content, falling back to tool call
// arguments for models that answer JSON requests through a function call.
func (r completionReply) text() (string, *emptyReplyError) {
	empty := &emptyReplyError{}
	for _, choice := range r.Choices {
		if empty.FinishReason == "" {
			empty.FinishReason = choice.FinishReason
		}
		if empty.Refusal == "" {
			empty.Refusal = strings.TrimSpace(choice.Message.Refusal)
		}
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		for _, call := range choice.Message.ToolCalls {
			if args := strings.TrimSpace(call.Function.Arguments); args != "" {
				return args, nil
			}
		}
	}
	return "", empty
}

// roundTrip performs a single POST and returns the reply text.
func (c *Client) roundTrip(ctx context.Context, body []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm request: rate limit wait: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("llm request: read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		delay, _ := retryAfter(resp.Header.Get("Retry-After"))
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw), RetryAfter: delay}
	}

	var reply completionReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", fmt.Errorf("llm request: decode reply: %w", err)
	}
	text, empty := reply.text()
	if empty != nil {
		empty.Snippet = summarizePayloadSnippet(string(raw))
		return "", empty
	}
	return text, nil
}

// errorMessage pulls error.message out of a JSON error body. Gemini sometimes
// wraps the object in a one-element array.
func errorMessage(raw []byte) string {
	type envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	var single envelope
	if json.Unmarshal(raw, &single) == nil && single.Error.Message != "" {
		return single.Error.Message
	}
	var list []envelope
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 && list[0].Error.Message != "" {
		return list[0].Error.Message
	}
	return summarizePayloadSnippet(string(raw))
}

// send encodes payload once and retries the round trip per the client's policy.
func (c *Client) send(ctx context.Context, payload chatCompletionRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm request: encode: %w", err)
	}
	attempts := c.retry.maxAttempts()
	for attempt := 1; ; attempt++ {
		text, err := c.roundTrip(ctx, body)
		if err == nil {
			return text, nil
		}
		if attempt >= attempts {
			if attempts > 1 {
				return "", fmt.Errorf("llm request: gave up after %d attempts: %w", attempts, err)
			}
			return "", err
		}
		delay, ok := c.retry.delay(ctx, err, attempt)
		if !ok {
			return "", err
		}
		if werr := c.retry.wait(ctx, delay); werr != nil {
			return "", werr
		}
	}
}
