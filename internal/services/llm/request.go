package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Roles accepted in Request.Messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxInlineDocumentBytes bounds how much of one text attachment is pasted into the prompt.
const maxInlineDocumentBytes = 64 * 1024

// Message is one prior conversational turn.
type Message struct {
	Role    string
	Content string
}

// Attachment is a user supplied document or image sent alongside the prompt.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// IsImage reports whether the attachment is sent as an image part.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.MIMEType)), "image/")
}

// Request describes one completion. Prompt is the final user turn; Messages
// precede it in order.
type Request struct {
	System      string
	Messages    []Message
	Prompt      string
	Attachments []Attachment
	Temperature float64
	MaxTokens   int
	JSON        bool
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// chatMessage.Content is either a string or a []contentPart.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

// Complete issues a chat completion and returns the model's text.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return "", fmt.Errorf("llm complete: %w", err)
	}
	return c.send(ctx, payload)
}

// CompleteJSON issues a JSON-only chat completion request with the supplied prompts.
// It returns the raw JSON payload produced by the model.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return "", errors.New("llm complete: system prompt required")
	}
	return c.Complete(ctx, Request{System: systemPrompt, Prompt: userPrompt, JSON: true})
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	content, err := c.Complete(ctx, Request{
		System: "You must respond with JSON only.",
		Prompt: `Respond with {"ok":true}`,
		JSON:   true,
	})
	if err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

func (c *Client) buildPayload(req Request) (chatCompletionRequest, error) {
	var payload chatCompletionRequest
	if c.cfg.APIKey == "" {
		return payload, ErrNoAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return payload, errors.New("user prompt required")
	}

	messages := make([]chatMessage, 0, len(req.Messages)+2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := msg.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		messages = append(messages, chatMessage{Role: role, Content: content})
	}
	messages = append(messages, chatMessage{Role: RoleUser, Content: userContent(prompt, req.Attachments)})

	payload = chatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = c.cfg.MaxOutputTokens
	}
	if req.JSON {
		payload.ResponseFormat = map[string]string{"type": jsonResponseType}
	}
	return payload, nil
}

// userContent inlines text documents into the prompt and sends images as data URLs.
func userContent(prompt string, attachments []Attachment) any {
	if len(attachments) == 0 {
		return prompt
	}
	var text strings.Builder
	text.WriteString(prompt)
	var images []contentPart
	for _, att := range attachments {
		if len(att.Data) == 0 {
			continue
		}
		if att.IsImage() {
			images = append(images, contentPart{
				Type: "image_url",
				ImageURL: &imageURL{
					URL: "data:" + att.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(att.Data),
				},
			})
			continue
		}
		if !utf8.Valid(att.Data) {
			continue
		}
		body := att.Data
		truncated := false
		if len(body) > maxInlineDocumentBytes {
			body = body[:maxInlineDocumentBytes]
			truncated = true
		}
		fmt.Fprintf(&text, "\n\n--- Document: %s ---\n%s", att.Name, strings.ToValidUTF8(string(body), ""))
		if truncated {
			text.WriteString("\n[document truncated]")
		}
	}
	if len(images) == 0 {
		return text.String()
	}
	parts := make([]contentPart, 0, len(images)+1)
	parts = append(parts, contentPart{Type: "text", Text: text.String()})
	return append(parts, images...)
}
