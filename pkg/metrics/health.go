package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status values reported by the health endpoints
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// CriticalComponents must all be registered and healthy before the control
// plane reports ready
var CriticalComponents = []string{"raft", "store", "reconciler"}

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker holds component health reported by the running services
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// UpdateComponent records the health of a component
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// GetHealth reports unhealthy if any registered component is
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
	}
	for name, comp := range healthChecker.components {
		if comp.Healthy {
			status.Components[name] = StatusHealthy
			continue
		}
		status.Status = StatusUnhealthy
		status.Components[name] = "unhealthy: " + comp.Message
	}
	return status
}

// GetReadiness reports ready once every critical component is healthy
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := HealthStatus{
		Status:     StatusReady,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
	}
	names := append([]string(nil), CriticalComponents...)
	sort.Strings(names)
	for _, name := range names {
		comp, ok := healthChecker.components[name]
		switch {
		case !ok:
			status.Components[name] = "not registered"
		case !comp.Healthy:
			status.Components[name] = "not ready: " + comp.Message
		default:
			status.Components[name] = StatusReady
			continue
		}
		if status.Status == StatusReady {
			status.Status = StatusNotReady
			status.Message = "waiting for " + name
		}
	}
	return status
}

// HealthHandler serves /health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ready := GetReadiness()
		code := http.StatusOK
		if ready.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, ready)
	}
}

// LivenessHandler always answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
