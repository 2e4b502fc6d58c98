package daemon

import (
	"context"
	"net/http"
	"testing"

	"aco/internal/attempts"
	"aco/internal/logging"
)

func TestDaemonStartStop(t *testing.T) {
	ts := newTestServer(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := ts.createRun(t)
	stale, err := ts.daemon.svc.Attempts.Start(ctx, id)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}

	if err := ts.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := ts.daemon.Status()
	if !status.Running || status.Address == "" {
		t.Fatalf("expected running daemon with an address, got %+v", status)
	}

	recovered, err := ts.daemon.svc.Attempts.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if recovered.Phase != attempts.PhaseFailed {
		t.Fatalf("expected interrupted attempt failed, got %s", recovered.Phase)
	}

	resp, err := http.Get("http://" + status.Address + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected health status %d", resp.StatusCode)
	}

	// Second start should fail
	if err := ts.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	ts.daemon.Stop()
	if ts.daemon.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockExcludesSecondServer(t *testing.T) {
	ts := newTestServer(t, "")
	ctx := context.Background()
	if err := ts.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ts.daemon.Stop()

	other, err := New(ts.cfg, ts.daemon.svc, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.Start(ctx); err == nil {
		other.Stop()
		t.Fatal("expected lock contention error")
	}
}

func TestNewRequiresServices(t *testing.T) {
	ts := newTestServer(t, "")
	if _, err := New(ts.cfg, Services{}, nil); err == nil {
		t.Fatal("expected error for empty services")
	}
}
