// Package adminapi exposes the resolver's operational surface — health,
// stats, and a manual reload trigger — over a small gin router, the same
// way the teacher exposes its own REST API. This is not part of the wire
// protocol clients speak (internal/wire/internal/transport); it is an
// operator-facing sidecar.
package adminapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrorResponse is the uniform error shape for every adminapi endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is the /healthz body.
type StatusResponse struct {
	Status string `json:"status"`
}

// MemoryStats mirrors the teacher's handlers.Stats memory breakdown.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CPUStats mirrors the teacher's handlers.Stats CPU breakdown.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	Uptime        string      `json:"uptime"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     time.Time   `json:"start_time"`
	CPU           CPUStats    `json:"cpu"`
	Memory        MemoryStats `json:"memory"`
	DriverCount   int         `json:"driver_count"`
	CacheQueued   int64       `json:"cache_queue_depth,omitempty"`
}

// ReloadFunc triggers a driver registry reload (the in-process equivalent
// of SIGHUP) and reports whether it succeeded.
type ReloadFunc func(ctx context.Context) error

// DriverCountFunc reports how many drivers are currently loaded.
type DriverCountFunc func() int

// Handler holds the callbacks and state the admin endpoints read from.
type Handler struct {
	startTime   time.Time
	reload      ReloadFunc
	driverCount DriverCountFunc
}

// NewHandler builds a Handler. driverCount may be nil, in which case
// /stats reports 0.
func NewHandler(reload ReloadFunc, driverCount DriverCountFunc) *Handler {
	if driverCount == nil {
		driverCount = func() int { return 0 }
	}
	return &Handler{startTime: time.Now(), reload: reload, driverCount: driverCount}
}

// Healthz godoc
// @Summary Health check
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Runtime statistics
// @Produce json
// @Success 200 {object} StatsResponse
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := CPUStats{NumCPU: runtime.NumCPU()}
	if pct, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(pct) > 0 {
		cpuStats.UsedPercent = pct[0]
		cpuStats.IdlePercent = 100.0 - pct[0]
	}

	c.JSON(http.StatusOK, StatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		DriverCount:   h.driverCount(),
	})
}

// Reload godoc
// @Summary Reload the driver registry
// @Produce json
// @Success 200 {object} StatusResponse
// @Failure 500 {object} ErrorResponse
// @Router /reload [post]
func (h *Handler) Reload(c *gin.Context) {
	if h.reload == nil {
		c.JSON(http.StatusOK, StatusResponse{Status: "noop"})
		return
	}
	if err := h.reload(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "reloaded"})
}

// RequireAPIKey enforces a shared-secret API key via the X-API-Key header,
// adapted directly from the teacher's middleware.RequireAPIKey. An empty
// expected key disables the check.
func RequireAPIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if expected == "" || got == expected {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
}

// RegisterRoutes wires /healthz, /stats, and /reload onto r. apiKey, if
// non-empty, protects /reload and /stats (health stays open so liveness
// probes never need a credential).
func RegisterRoutes(r *gin.Engine, h *Handler, apiKey string) {
	r.GET("/healthz", h.Healthz)

	protected := r.Group("/")
	if apiKey != "" {
		protected.Use(RequireAPIKey(apiKey))
	}
	protected.GET("/stats", h.Stats)
	protected.POST("/reload", h.Reload)
}
