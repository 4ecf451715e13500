package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diorsjoy/subscription-based-toy-rental-system-sub001/internal/platform/httpx"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
	defaultProbeTimeout  = 3 * time.Second
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	version      string
	environment  string
	startedAt    time.Time
	clock        func() time.Time
	probes       map[string]Probe
	probeTimeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs health handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		version:      "dev",
		clock:        time.Now,
		probes:       make(map[string]Probe),
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.startedAt.IsZero() {
		h.startedAt = h.clock()
	}
	return h
}

// WithHealthBuild records the build version and environment reported by /healthz.
func WithHealthBuild(version, environment string) HealthOption {
	return func(h *HealthHandlers) {
		if version != "" {
			h.version = version
		}
		h.environment = environment
	}
}

// WithHealthStartedAt sets the process start time used for uptime.
func WithHealthStartedAt(t time.Time) HealthOption {
	return func(h *HealthHandlers) {
		h.startedAt = t
	}
}

// WithHealthClock overrides the time source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthProbe adds a readiness probe.
func WithHealthProbe(name string, probe Probe) HealthOption {
	return func(h *HealthHandlers) {
		if name != "" && probe != nil {
			h.probes[name] = probe
		}
	}
}

// Healthz reports liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      healthStatusOK,
		"version":     h.version,
		"environment": h.environment,
		"uptime":      now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp":   now.UTC().Format(time.RFC3339),
	})
}

type healthCheck struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Readyz runs every probe concurrently and reports 503 when any of them fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
	defer cancel()

	// A plain errgroup.Group, not WithContext: one failing dependency must not cancel the other
	// probes, so every goroutine records its result and returns nil.
	var (
		mu     sync.Mutex
		group  errgroup.Group
		checks = make(map[string]healthCheck, len(h.probes))
	)
	for name, probe := range h.probes {
		name, probe := name, probe
		group.Go(func() error {
			start := time.Now()
			err := probe(ctx)
			check := healthCheck{Status: healthStatusOK, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				check.Status = healthStatusDegraded
				check.Error = err.Error()
			}
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	status := healthStatusOK
	details := make([]string, 0)
	for name, check := range checks {
		if check.Status != healthStatusOK {
			status = healthStatusDegraded
			details = append(details, name+": "+check.Error)
		}
	}
	sort.Strings(details)

	code := http.StatusOK
	if status != healthStatusOK {
		code = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, code, map[string]any{
		"status":       status,
		"checks":       checks,
		"details":      details,
		"generated_at": h.clock().UTC().Format(time.RFC3339),
	})
}
