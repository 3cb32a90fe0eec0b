package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/chisanga/revpredict-go/internal/database"
)

// HealthResponse reports service health and basic system stats.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
	Services  Services    `json:"services"`
	System    SystemStats `json:"system"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	Goroutines    int     `json:"goroutines"`
}

// HealthCheck reports dependency health plus CPU/memory usage. Redis may be
// nil when the response cache is disabled.
func HealthCheck(db *database.PostgresDB, redis *database.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Version:   "1.0.0",
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
			System: SystemStats{Goroutines: runtime.NumGoroutine()},
		}

		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		if redis == nil {
			response.Services.Redis = "disabled"
		} else if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
			response.System.CPUPercent = percentages[0]
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			response.System.MemoryPercent = vm.UsedPercent
			response.System.MemoryUsedMB = vm.Used / 1024 / 1024
		}

		status := http.StatusOK
		if response.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, response)
	}
}
