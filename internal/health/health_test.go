package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

func TestHealthStatus(t *testing.T) {
	t.Parallel()
	if StatusOK != "ok" {
		t.Errorf("StatusOK = %q, want 'ok'", StatusOK)
	}
	if StatusDegraded != "degraded" {
		t.Errorf("StatusDegraded = %q, want 'degraded'", StatusDegraded)
	}
	if StatusUnhealthy != "unhealthy" {
		t.Errorf("StatusUnhealthy = %q, want 'unhealthy'", StatusUnhealthy)
	}
}

func TestChecker_Observe(t *testing.T) {
	t.Parallel()
	h := NewChecker(nil)
	h.Observe("account")

	report := h.GetReport()
	if len(report.Watchers) != 1 {
		t.Fatalf("Watchers count = %d, want 1", len(report.Watchers))
	}
	w := report.Watchers[0]
	if w.Name != "account" {
		t.Errorf("Watcher name = %q, want 'account'", w.Name)
	}
	if w.Status != StatusOK || w.State != "connecting" {
		t.Errorf("Watcher = %s/%s, want ok/connecting", w.Status, w.State)
	}
}

func TestChecker_StateTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state watcher.State
		want  Status
	}{
		{watcher.StateConnecting, StatusOK},
		{watcher.StateStreaming, StatusOK},
		{watcher.StateReconnecting, StatusDegraded},
		{watcher.StatePolling, StatusDegraded},
		{watcher.StateStopped, StatusUnhealthy},
	}

	for _, tt := range tests {
		h := NewChecker(nil)
		o := h.Observe("w")
		o.StateChanged(watcher.StateConnecting, tt.state)

		if got := h.Check(); got != tt.want {
			t.Errorf("Check() after %s = %q, want %q", tt.state, got, tt.want)
		}
		if got := h.GetReport().Watchers[0].State; got != tt.state.String() {
			t.Errorf("State = %q, want %q", got, tt.state)
		}
	}
}

func TestChecker_Counters(t *testing.T) {
	t.Parallel()
	h := NewChecker(nil)
	o := h.Observe("kv")

	o.UpdateAccepted(7)
	o.UpdateAccepted(9)
	o.UpdateDiscarded(8)
	o.Failure(watcher.KindStream)

	w := h.GetReport().Watchers[0]
	if w.Updates != 2 {
		t.Errorf("Updates = %d, want 2", w.Updates)
	}
	if w.Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", w.Discarded)
	}
	if w.Errors != 1 {
		t.Errorf("Errors = %d, want 1", w.Errors)
	}
	if w.LastSlot != 9 {
		t.Errorf("LastSlot = %d, want 9", w.LastSlot)
	}
	if w.LastUpdate == nil {
		t.Error("LastUpdate should be set")
	}
}

func TestChecker_AggregateStatus(t *testing.T) {
	t.Parallel()
	h := NewChecker(nil)
	a := h.Observe("b-watcher")
	h.Observe("a-watcher")

	a.StateChanged(watcher.StateStreaming, watcher.StatePolling)
	if got := h.Check(); got != StatusDegraded {
		t.Errorf("Check() = %q, want 'degraded'", got)
	}

	a.StateChanged(watcher.StatePolling, watcher.StateStopped)
	if got := h.Check(); got != StatusUnhealthy {
		t.Errorf("Check() = %q, want 'unhealthy'", got)
	}

	report := h.GetReport()
	if report.Watchers[0].Name != "a-watcher" || report.Watchers[1].Name != "b-watcher" {
		t.Errorf("Watchers not sorted by name: %+v", report.Watchers)
	}
}

func TestChecker_ServeHTTP(t *testing.T) {
	t.Parallel()
	h := NewChecker(nil)
	o := h.Observe("doc")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want 200", rec.Code)
	}
	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Status != StatusOK {
		t.Errorf("Report status = %q, want 'ok'", report.Status)
	}

	o.StateChanged(watcher.StateStreaming, watcher.StateStopped)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Status code = %d, want 503", rec.Code)
	}
}

func TestChecker_HandlerServesMetrics(t *testing.T) {
	t.Parallel()
	h := NewChecker(nil)

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status code = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestStartServer_StopsOnCancel(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, addr, NewChecker(nil)) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("StartServer returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StartServer did not return after cancel")
	}
}
