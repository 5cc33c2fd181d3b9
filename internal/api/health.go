package api

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/race-pf-replay-go/internal/engine"
	"github.com/MJE43/race-pf-replay-go/internal/parity"
	"github.com/MJE43/race-pf-replay-go/internal/race"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse represents a comprehensive health check response
type HealthCheckResponse struct {
	Status        HealthStatus           `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	EngineVersion string                 `json:"engine_version"`
	GitCommit     string                 `json:"git_commit,omitempty"`
	BuildTime     string                 `json:"build_time,omitempty"`
	Uptime        string                 `json:"uptime"`
	Checks        map[string]HealthCheck `json:"checks"`
	System        SystemInfo             `json:"system"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	MemoryTotal   uint64 `json:"memory_total_bytes"`
	MemorySys     uint64 `json:"memory_sys_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// MetricsResponse represents basic performance metrics
type MetricsResponse struct {
	Timestamp     string               `json:"timestamp"`
	EngineVersion string               `json:"engine_version"`
	Uptime        string               `json:"uptime"`
	System        SystemInfo           `json:"system"`
	HouseEdgeBps  uint32               `json:"house_edge_bps"`
	Operations    map[string]OpMetrics `json:"operations"`
	RequestID     string               `json:"request_id,omitempty"`
}

// OpMetrics counts the requests served by one route.
type OpMetrics struct {
	TotalRequests   uint64 `json:"total_requests"`
	SuccessRequests uint64 `json:"success_requests"`
	ErrorRequests   uint64 `json:"error_requests"`
	AvgDurationMs   int64  `json:"avg_duration_ms"`
	LastRequest     string `json:"last_request,omitempty"`

	totalDuration time.Duration
}

// HealthMonitor tracks uptime and per-route request counters.
type HealthMonitor struct {
	startTime time.Time

	mu      sync.Mutex
	metrics map[string]*OpMetrics
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		startTime: time.Now(),
		metrics:   make(map[string]*OpMetrics),
	}
}

func (hm *HealthMonitor) record(op string, status int, d time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	m, ok := hm.metrics[op]
	if !ok {
		m = &OpMetrics{}
		hm.metrics[op] = m
	}
	m.TotalRequests++
	if status >= 400 {
		m.ErrorRequests++
	} else {
		m.SuccessRequests++
	}
	m.totalDuration += d
	m.AvgDurationMs = (m.totalDuration / time.Duration(m.TotalRequests)).Milliseconds()
	m.LastRequest = time.Now().UTC().Format(time.RFC3339)
}

func (hm *HealthMonitor) snapshot() map[string]OpMetrics {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	out := make(map[string]OpMetrics, len(hm.metrics))
	for op, m := range hm.metrics {
		out[op] = *m
	}
	return out
}

func (hm *HealthMonitor) uptime() time.Duration {
	return time.Since(hm.startTime)
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping() error
}

// handleHealthCheck provides comprehensive health check endpoint
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	start := time.Now()

	checks := map[string]HealthCheck{
		"strategies": s.checkStrategiesHealth(),
		"database":   s.checkDatabaseHealth(),
		"scanner":    s.checkScannerHealth(),
		"parity":     s.checkParityHealth(),
	}

	overallStatus := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			overallStatus = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overallStatus == HealthStatusHealthy {
				overallStatus = HealthStatusDegraded
			}
		}
	}

	response := HealthCheckResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		Uptime:        s.monitor.uptime().String(),
		Checks:        checks,
		System:        getSystemInfo(),
		RequestID:     requestID,
	}

	statusCode := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	s.securityLogger.LogAuditEvent(
		requestID,
		"health_check",
		"system",
		string(overallStatus),
		map[string]interface{}{
			"duration":    time.Since(start),
			"checks":      len(checks),
			"status_code": statusCode,
		},
	)

	s.writeJSON(w, statusCode, response)
}

// handleMetrics reports system figures and per-route request counters
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	systemInfo := getSystemInfo()

	response := MetricsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EngineVersion: EngineVersion,
		Uptime:        s.monitor.uptime().String(),
		System:        systemInfo,
		HouseEdgeBps:  s.houseEdge.Load(),
		Operations:    s.monitor.snapshot(),
		RequestID:     requestID,
	}

	s.securityLogger.LogAuditEvent(
		requestID,
		"metrics_request",
		"system",
		"success",
		map[string]interface{}{
			"num_goroutines": systemInfo.NumGoroutines,
			"memory_alloc":   systemInfo.MemoryAlloc,
		},
	)

	s.writeJSON(w, http.StatusOK, response)
}

// handleReadiness provides readiness probe endpoint
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	ready := true
	message := "Ready"
	if _, ok := race.Get(s.cfg.Strategy); !ok {
		ready = false
		message = fmt.Sprintf("Strategy %q not registered", s.cfg.Strategy)
	}
	if db := s.checkDatabaseHealth(); db.Status != HealthStatusHealthy {
		ready = false
		message = db.Message
	}

	statusCode := http.StatusOK
	outcome := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		outcome = "not_ready"
	}

	s.securityLogger.LogAuditEvent(requestID, "readiness_check", "system", outcome,
		map[string]interface{}{"message": message})

	s.writeJSON(w, statusCode, map[string]interface{}{
		"ready":          ready,
		"message":        message,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"request_id":     requestID,
	})
}

// handleLiveness provides liveness probe endpoint
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"uptime":         s.monitor.uptime().String(),
		"request_id":     middleware.GetReqID(r.Context()),
	})
}

func (s *Server) checkStrategiesHealth() HealthCheck {
	start := time.Now()
	status := HealthStatusHealthy
	ids := race.IDs()
	message := fmt.Sprintf("%d strategies available, serving %s", len(ids), s.cfg.Strategy)
	if _, ok := race.Get(s.cfg.Strategy); !ok {
		status = HealthStatusUnhealthy
		message = fmt.Sprintf("configured strategy %q not registered (have %v)", s.cfg.Strategy, ids)
	}
	return newHealthCheck(status, message, start)
}

func (s *Server) checkDatabaseHealth() HealthCheck {
	start := time.Now()
	if s.db == nil {
		return newHealthCheck(HealthStatusUnhealthy, "Database not initialized", start)
	}
	if p, ok := s.db.(pinger); ok {
		if err := p.Ping(); err != nil {
			return newHealthCheck(HealthStatusUnhealthy, fmt.Sprintf("Database ping failed: %v", err), start)
		}
	}
	return newHealthCheck(HealthStatusHealthy, "Database connection healthy", start)
}

func (s *Server) checkScannerHealth() HealthCheck {
	start := time.Now()
	if s.scanner == nil {
		return newHealthCheck(HealthStatusUnhealthy, "Scanner not initialized", start)
	}
	return newHealthCheck(HealthStatusHealthy, fmt.Sprintf("Scanner ready with %d workers", s.scanner.Workers()), start)
}

// checkParityHealth draws a short dice sequence in both implementations. A
// disagreement means the engine can no longer be trusted to match clients.
func (s *Server) checkParityHealth() HealthCheck {
	start := time.Now()
	vm, err := parity.NewVM()
	if err != nil {
		return newHealthCheck(HealthStatusDegraded, fmt.Sprintf("Reference VM unavailable: %v", err), start)
	}
	report, err := vm.CheckRolls(engine.Keccak256([]byte("health")), []uint64{10, 100, 1000, 65536, 1 << 40})
	if err != nil {
		return newHealthCheck(HealthStatusDegraded, fmt.Sprintf("Reference check failed: %v", err), start)
	}
	if !report.Match {
		return newHealthCheck(HealthStatusUnhealthy, fmt.Sprintf("Engine and reference diverge at roll %d", report.FirstMismatch), start)
	}
	return newHealthCheck(HealthStatusHealthy, "Engine matches reference", start)
}

func newHealthCheck(status HealthStatus, message string, start time.Time) HealthCheck {
	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

// getSystemInfo collects system information
func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
		MemoryTotal:   m.TotalAlloc,
		MemorySys:     m.Sys,
		GCCycles:      m.NumGC,
	}
}
