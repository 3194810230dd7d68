package server

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Version is the engine version reported by the health endpoint.
const Version = "1.0.0"

type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemPercent    float64  `json:"mem_percent"`
	Database      string   `json:"database,omitempty"`
	Strategies    []string `json:"strategies"`
}

// handleHealth reports liveness plus a cpu/mem snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: time.Since(s.startupTime).Seconds(),
		Strategies:    s.registry.IDs(),
	}

	// 100ms sampling keeps the endpoint fast enough for pollers.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		resp.MemPercent = memStat.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.QuickCheck(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Database ping failed")
			resp.Database = "error"
			resp.Status = "degraded"
		} else {
			resp.Database = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
