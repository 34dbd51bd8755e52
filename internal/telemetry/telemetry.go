// Package telemetry samples process-level counters for the metrics tick.
// Every field is best-effort: a counter that cannot be read falls back to a
// runtime-derived value or zero instead of failing the sample.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// System is one point-in-time reading of the gateway process.
type System struct {
	Uptime      time.Duration
	MemoryBytes uint64
	CPUPercent  float64
}

// Sampler reads CPU and resident memory of the current process.
type Sampler struct {
	started time.Time
	proc    *process.Process
	logger  *slog.Logger
}

// NewSampler creates a Sampler. If the process handle cannot be opened the
// sampler still works, reporting Go runtime memory and zero CPU.
func NewSampler(logger *slog.Logger) *Sampler {
	logger = logger.With("component", "telemetry")
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("process telemetry unavailable, using runtime fallbacks", "error", err)
		proc = nil
	}
	return &Sampler{started: time.Now(), proc: proc, logger: logger}
}

// Sample never fails; unreadable counters are replaced with defaults.
func (s *Sampler) Sample(ctx context.Context) System {
	sys := System{Uptime: time.Since(s.started)}

	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			sys.MemoryBytes = mem.RSS
		} else {
			s.logger.Debug("read rss failed", "error", err)
		}
		if pct, err := s.proc.PercentWithContext(ctx, 0); err == nil {
			sys.CPUPercent = pct
		} else {
			s.logger.Debug("read cpu failed", "error", err)
		}
	}

	if sys.MemoryBytes == 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		sys.MemoryBytes = ms.Sys
	}
	return sys
}
