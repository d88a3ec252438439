// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides health check and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	defaultCacheTTL = 10 * time.Second
	requestTimeout  = 5 * time.Second
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the last result of one named check.
type Check struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical,omitempty"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	DurationMS  float64   `json:"duration_ms"`
}

// Report is the JSON body served by the health endpoints.
type Report struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) error

type registration struct {
	check    CheckFunc
	critical bool
}

// Checker runs registered checks and caches their results for a TTL.
type Checker struct {
	mu     sync.Mutex
	checks map[string]registration
	cache  map[string]Check
	ttl    time.Duration
	now    func() time.Time
}

// NewChecker creates a new health checker. A zero cacheTTL selects 10s;
// a negative one disables caching.
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Checker{
		checks: make(map[string]registration),
		cache:  make(map[string]Check),
		ttl:    cacheTTL,
		now:    time.Now,
	}
}

// Register adds a check whose failure degrades the service.
func (c *Checker) Register(name string, check CheckFunc) {
	c.register(name, check, false)
}

// RegisterCritical adds a check whose failure makes the service unhealthy.
func (c *Checker) RegisterCritical(name string, check CheckFunc) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registration{check: check, critical: critical}
	delete(c.cache, name)
}

// Health runs every check not answered from cache and returns the overall
// status together with the per-check results, sorted by name.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := StatusHealthy
	checks := make([]Check, 0, len(names))
	for _, name := range names {
		reg := c.checks[name]

		check, ok := c.cache[name]
		if !ok || c.ttl < 0 || c.now().Sub(check.LastChecked) >= c.ttl {
			check = c.run(ctx, name, reg)
			c.cache[name] = check
		}
		checks = append(checks, check)

		if check.Status == StatusHealthy {
			continue
		}
		if reg.critical {
			overall = StatusUnhealthy
		} else if overall == StatusHealthy {
			overall = StatusDegraded
		}
	}

	return overall, checks
}

func (c *Checker) run(ctx context.Context, name string, reg registration) Check {
	start := c.now()
	err := reg.check(ctx)
	end := c.now()

	check := Check{
		Name:        name,
		Status:      StatusHealthy,
		Critical:    reg.critical,
		LastChecked: end,
		DurationMS:  float64(end.Sub(start)) / float64(time.Millisecond),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

// HTTPHandler serves the full report. Degraded still answers 200 so traffic
// keeps flowing; unhealthy answers 503.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return c.handler(func(s Status) bool {
		return s != StatusUnhealthy
	})
}

// ReadinessHandler answers 200 only when every check passes.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return c.handler(func(s Status) bool {
		return s == StatusHealthy
	})
}

func (c *Checker) handler(ok func(Status) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		status, checks := c.Health(ctx)

		code := http.StatusOK
		if !ok(status) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Report{Status: status, Checks: checks})
	}
}

// LivenessHandler returns a simple liveness probe.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
		})
	}
}

// NewMux mounts /health, /ready and /live.
func NewMux(c *Checker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.HTTPHandler())
	mux.HandleFunc("/ready", c.ReadinessHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
