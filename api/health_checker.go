package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/gin-gonic/gin"
)

// ComponentHealthStatus is the health of one dependency
type ComponentHealthStatus string

const (
	ComponentHealthStatusHealthy   ComponentHealthStatus = "healthy"
	ComponentHealthStatusUnhealthy ComponentHealthStatus = "unhealthy"
	ComponentHealthStatusUnknown   ComponentHealthStatus = "unknown"
)

// Overall service status
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// Pinger is a dependency that can be probed
type Pinger interface {
	Ping(ctx context.Context) error
}

// ComponentHealthResult holds health check results for a single component
type ComponentHealthResult struct {
	Status    ComponentHealthStatus `json:"status"`
	LatencyMs int64                 `json:"latency_ms"`
	Message   string                `json:"message"`
}

// SystemHealthResult holds health check results for the relay
type SystemHealthResult struct {
	Status      string                           `json:"status"`
	Rooms       int                              `json:"rooms"`
	Members     int                              `json:"members"`
	Connections int                              `json:"connections"`
	Components  map[string]ComponentHealthResult `json:"components,omitempty"`
}

// HealthChecker performs health checks on the relay and its dependencies.
// The relay keeps serving when a dependency is down, so an unhealthy
// dependency only degrades the reported status.
type HealthChecker struct {
	timeout    time.Duration
	hub        *Hub
	components map[string]Pinger
}

// NewHealthChecker creates a new health checker with the specified timeout
func NewHealthChecker(timeout time.Duration, hub *Hub) *HealthChecker {
	return &HealthChecker{
		timeout:    timeout,
		hub:        hub,
		components: make(map[string]Pinger),
	}
}

// AddComponent registers a dependency to probe. A nil pinger is ignored.
func (h *HealthChecker) AddComponent(name string, p Pinger) {
	if p != nil {
		h.components[name] = p
	}
}

// CheckHealth probes every registered component
func (h *HealthChecker) CheckHealth(ctx context.Context) SystemHealthResult {
	stats := h.hub.Registry().Stats()
	result := SystemHealthResult{
		Status:      HealthOK,
		Rooms:       stats.Rooms,
		Members:     stats.Connections,
		Connections: h.hub.ConnectionCount(),
	}
	if len(h.components) == 0 {
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result.Components = make(map[string]ComponentHealthResult, len(h.components))
	for name, p := range h.components {
		component := h.check(checkCtx, name, p)
		if component.Status != ComponentHealthStatusHealthy {
			result.Status = HealthDegraded
		}
		result.Components[name] = component
	}
	return result
}

func (h *HealthChecker) check(ctx context.Context, name string, p Pinger) ComponentHealthResult {
	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		slogging.Get().Warn("%s health check failed: %v", name, err)
		return ComponentHealthResult{
			Status:    ComponentHealthStatusUnhealthy,
			LatencyMs: latency,
			Message:   name + " ping failed",
		}
	}
	return ComponentHealthResult{
		Status:    ComponentHealthStatusHealthy,
		LatencyMs: latency,
		Message:   name + " is responsive",
	}
}

// HandleHealth reports service health. It always answers 200 while the
// process can serve; degraded dependencies show in the body.
func (h *HealthChecker) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.CheckHealth(c.Request.Context()))
}
