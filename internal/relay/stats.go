package relay

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// StatsResponse is the body of GET /stats. Host figures are zero when the
// platform does not expose them.
type StatsResponse struct {
	Clients           int     `json:"clients"`
	Sessions          int     `json:"sessions"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	Goroutines        int     `json:"goroutines"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	HostMemoryPercent float64 `json:"host_memory_percent"`
}

func (r *Relay) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats := StatsResponse{
		Clients:       r.reg.Len(),
		Sessions:      r.SessionCount(),
		UptimeSeconds: int64(time.Since(r.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			stats.ProcessRSSBytes = memInfo.RSS
		}
		if cpuPercent, err := p.CPUPercentWithContext(ctx); err == nil {
			stats.ProcessCPUPercent = cpuPercent
		}
	} else {
		r.log.WithError(err).Debug("Process stats unavailable")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		stats.HostMemoryPercent = vm.UsedPercent
	}

	c.JSON(http.StatusOK, stats)
}
