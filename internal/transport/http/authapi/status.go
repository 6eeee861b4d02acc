package authapi

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	httptransport "medgate/internal/transport/http"
)

// handleAdminStatus reports process and host health for operators. The route
// is admin-gated; everything here is diagnostic, nothing is sensitive to the
// authentication flow itself.
func (s *Service) handleAdminStatus(c *gin.Context) {
	status := gin.H{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory"] = gin.H{
			"total":        vm.Total,
			"used":         vm.Used,
			"used_percent": vm.UsedPercent,
		}
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			status["process_rss"] = info.RSS
		}
	}

	httptransport.RespondSuccess(c, http.StatusOK, status, "")
}
