package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aco/internal/config"
	"aco/internal/notifications"
)

type captured struct {
	title, body, tags, priority string
}

func newTopic(t *testing.T) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(config.Notifications{})
	if err := svc.Publish(context.Background(), notifications.EventAttemptFailed, notifications.Payload{RunID: "r1"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     []string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "attempt completed",
			event: notifications.EventAttemptCompleted,
			payload: notifications.Payload{
				RunID:       "20260101_pbmc",
				Description: "PBMC 10x run\nsecond line",
				Duration:    95 * time.Second,
			},
			expectTitle: "aco - Pipeline Complete",
			expectBody:  []string{"20260101_pbmc (PBMC 10x run)", "1m35s"},
			expectTags:  "aco,pipeline,completed",
		},
		{
			name:  "attempt failed",
			event: notifications.EventAttemptFailed,
			payload: notifications.Payload{
				RunID:         "20260101_pbmc",
				Phase:         "installing_deps",
				Error:         "uv pip install exited 1",
				FailedScripts: []string{"01_qc.py"},
			},
			expectTitle:    "aco - Pipeline Failed",
			expectBody:     []string{"during installing deps", "Failed scripts: 01_qc.py", "Error: uv pip install exited 1"},
			expectTags:     "aco,pipeline,failed",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "aco - Test",
			expectBody:     []string{"Notification system test"},
			expectTags:     "aco,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, got := newTopic(t)
			svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL, OnSuccess: true})
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("publish: %v", err)
			}
			if len(*got) != 1 {
				t.Fatalf("expected one request, got %d", len(*got))
			}
			req := (*got)[0]
			if req.title != tc.expectTitle {
				t.Fatalf("title = %q, want %q", req.title, tc.expectTitle)
			}
			for _, want := range tc.expectBody {
				if !strings.Contains(req.body, want) {
					t.Fatalf("body %q missing %q", req.body, want)
				}
			}
			if req.tags != tc.expectTags {
				t.Fatalf("tags = %q, want %q", req.tags, tc.expectTags)
			}
			if req.priority != tc.expectPriority {
				t.Fatalf("priority = %q, want %q", req.priority, tc.expectPriority)
			}
		})
	}
}

func TestCompletedAttemptsSkippedWithoutOnSuccess(t *testing.T) {
	srv, got := newTopic(t)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	if err := svc.Publish(context.Background(), notifications.EventAttemptCompleted, notifications.Payload{RunID: "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := svc.Publish(context.Background(), notifications.EventAttemptFailed, notifications.Payload{RunID: "r1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(*got) != 1 || (*got)[0].title != "aco - Pipeline Failed" {
		t.Fatalf("expected only the failure notification, got %+v", *got)
	}
}

func TestNtfyErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic not allowed", http.StatusForbidden)
	}))
	defer srv.Close()

	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	err := svc.Publish(context.Background(), notifications.EventTest, notifications.Payload{})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
