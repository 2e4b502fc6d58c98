package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aco/internal/config"
)

const userAgent = "aco/0.1"

// Event names a notification type.
type Event string

const (
	EventAttemptCompleted Event = "attempt_completed"
	EventAttemptFailed    Event = "attempt_failed"
	EventTest             Event = "test"
)

// Payload carries the attempt details rendered into a message.
type Payload struct {
	RunID         string
	AttemptID     string
	Description   string
	Phase         string
	Error         string
	FailedScripts []string
	Duration      time.Duration
}

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a noop one when no topic is set.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:  topic,
		onSuccess: cfg.OnSuccess,
		client:    &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	onSuccess bool
	client    *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if event == EventAttemptCompleted && !n.onSuccess {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, p Payload) (message, bool) {
	subject := strings.TrimSpace(p.RunID)
	if desc := firstLine(p.Description); desc != "" {
		subject = fmt.Sprintf("%s (%s)", subject, desc)
	}
	switch event {
	case EventAttemptCompleted:
		return message{
			title: "aco - Pipeline Complete",
			body:  fmt.Sprintf("All scripts succeeded for %s in %s", subject, formatDuration(p.Duration)),
			tags:  []string{"aco", "pipeline", "completed"},
		}, true
	case EventAttemptFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "Pipeline failed for %s", subject)
		if p.Phase != "" {
			fmt.Fprintf(&b, " during %s", strings.ReplaceAll(p.Phase, "_", " "))
		}
		if len(p.FailedScripts) > 0 {
			fmt.Fprintf(&b, "\nFailed scripts: %s", strings.Join(p.FailedScripts, ", "))
		}
		if errText := strings.TrimSpace(p.Error); errText != "" {
			fmt.Fprintf(&b, "\nError: %s", errText)
		}
		return message{
			title:    "aco - Pipeline Failed",
			body:     b.String(),
			tags:     []string{"aco", "pipeline", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "aco - Test",
			body:     "Notification system test",
			tags:     []string{"aco", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if r := []rune(s); len(r) > 60 {
		s = string(r[:59]) + "…"
	}
	return s
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
