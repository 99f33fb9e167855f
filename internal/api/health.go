package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/version"
)

// HealthStatus is the overall or per-check health.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse is the body of /health.
type HealthCheckResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  string                 `json:"timestamp"`
	Version    version.Info           `json:"version"`
	Uptime     string                 `json:"uptime"`
	ActiveEnvs int                    `json:"active_envs"`
	Checks     map[string]HealthCheck `json:"checks"`
	System     SystemInfo             `json:"system"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// HealthCheck is one component check.
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]HealthCheck{
		"engines": s.checkEngines(),
		"store":   s.checkStore(),
	}
	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}

	status := http.StatusOK
	if overall == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, HealthCheckResponse{
		Status:     overall,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    version.Get(),
		Uptime:     time.Since(s.startTime).String(),
		ActiveEnvs: s.sessions.len(),
		Checks:     checks,
		System:     systemInfo(),
		RequestID:  middleware.GetReqID(r.Context()),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alive":      true,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"version":    version.Version,
		"uptime":     time.Since(s.startTime).String(),
		"request_id": middleware.GetReqID(r.Context()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, version.Get())
}

func (s *Server) checkEngines() HealthCheck {
	start := time.Now()
	kinds := game.Kinds()
	c := HealthCheck{Status: HealthStatusHealthy, Message: fmt.Sprintf("%d engine kinds registered: %v", len(kinds), kinds)}
	if len(kinds) == 0 {
		c.Status = HealthStatusUnhealthy
		c.Message = "No engine kinds registered"
	}
	c.LastChecked = time.Now().UTC().Format(time.RFC3339)
	c.Duration = time.Since(start).String()
	return c
}

// checkStore reports degraded rather than unhealthy: envs keep working
// without recording.
func (s *Server) checkStore() HealthCheck {
	start := time.Now()
	c := HealthCheck{Status: HealthStatusHealthy, Message: "Recording enabled"}
	switch {
	case s.store == nil:
		c.Message = "Recording disabled"
	case s.store.Ping() != nil:
		c.Status = HealthStatusDegraded
		c.Message = "Store unreachable"
	}
	c.LastChecked = time.Now().UTC().Format(time.RFC3339)
	c.Duration = time.Since(start).String()
	return c
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		MemoryAlloc:   m.Alloc,
		GCCycles:      m.NumGC,
	}
}
