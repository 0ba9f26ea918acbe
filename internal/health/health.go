// Package health reports the state of running watchers over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// Status represents the health status of a watcher or the whole process.
type Status string

const (
	// StatusOK indicates the watcher is connecting or streaming.
	StatusOK Status = "ok"

	// StatusDegraded indicates the watcher is polling or reconnecting.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates the watcher has stopped.
	StatusUnhealthy Status = "unhealthy"
)

// WatcherHealth represents the health of a single watcher.
type WatcherHealth struct {
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	State      string     `json:"state"`
	LastSlot   uint64     `json:"lastSlot"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	Updates    int64      `json:"updates"`
	Discarded  int64      `json:"discarded"`
	Errors     int        `json:"errors"`
}

// Report is the full health report.
type Report struct {
	Status    Status          `json:"status"`
	Uptime    string          `json:"uptime"`
	StartedAt time.Time       `json:"startedAt"`
	Watchers  []WatcherHealth `json:"watchers"`
}

// Checker tracks watchers through the observers it hands out.
type Checker struct {
	startedAt time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*WatcherHealth
}

// NewChecker creates a new health checker.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		startedAt: time.Now(),
		logger:    logger.With("component", "health"),
		watchers:  make(map[string]*WatcherHealth),
	}
}

// Observe registers a watcher and returns the observer that keeps its entry
// current. Registering a name twice resets its entry.
func (h *Checker) Observe(name string) watcher.Observer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers[name] = &WatcherHealth{
		Name:   name,
		Status: StatusOK,
		State:  watcher.StateConnecting.String(),
	}
	return &observer{checker: h, name: name}
}

func (h *Checker) update(name string, fn func(wh *WatcherHealth)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if wh, ok := h.watchers[name]; ok {
		fn(wh)
	}
}

// GetReport returns the current health report.
func (h *Checker) GetReport() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	report := Report{
		Status:    StatusOK,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
		Watchers:  make([]WatcherHealth, 0, len(h.watchers)),
	}

	for _, wh := range h.watchers {
		report.Watchers = append(report.Watchers, *wh)

		if wh.Status == StatusUnhealthy {
			report.Status = StatusUnhealthy
		} else if wh.Status == StatusDegraded && report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	sort.Slice(report.Watchers, func(i, j int) bool {
		return report.Watchers[i].Name < report.Watchers[j].Name
	})

	return report
}

// Check returns the overall health status.
func (h *Checker) Check() Status {
	return h.GetReport().Status
}

// ServeHTTP implements http.Handler for the health endpoint.
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := h.GetReport()

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		h.logger.Warn("failed to write health report", "error", err)
	}
}

// Handler returns the mux serving /health and /metrics.
func (h *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/health", h)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartServer serves the checker on addr until ctx is done.
func StartServer(ctx context.Context, addr string, checker *Checker) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           checker.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	checker.logger.Info("health server starting", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func statusOf(s watcher.State) Status {
	switch s {
	case watcher.StatePolling, watcher.StateReconnecting:
		return StatusDegraded
	case watcher.StateStopped:
		return StatusUnhealthy
	default:
		return StatusOK
	}
}

type observer struct {
	checker *Checker
	name    string
}

func (o *observer) StateChanged(_, to watcher.State) {
	o.checker.update(o.name, func(wh *WatcherHealth) {
		wh.State = to.String()
		wh.Status = statusOf(to)
	})
}

func (o *observer) UpdateAccepted(slot watcher.Slot) {
	now := time.Now()
	o.checker.update(o.name, func(wh *WatcherHealth) {
		wh.LastSlot = uint64(slot)
		wh.LastUpdate = &now
		wh.Updates++
	})
}

func (o *observer) UpdateDiscarded(watcher.Slot) {
	o.checker.update(o.name, func(wh *WatcherHealth) {
		wh.Discarded++
	})
}

func (o *observer) Failure(watcher.Kind) {
	o.checker.update(o.name, func(wh *WatcherHealth) {
		wh.Errors++
	})
}
