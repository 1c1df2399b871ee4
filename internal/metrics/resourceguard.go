package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceGuard periodically samples process CPU and memory usage,
// publishing them to the Registry and exposing a threshold check nodes
// can consult before doing admission-sensitive work (e.g. AddNode under
// load). Grounded on the teacher's ResourceGuard, which gates new
// connections the same way; here the gate is advisory rather than
// connection-specific, since the fabric has no inbound connection to
// reject.
type ResourceGuard struct {
	reg         *Registry
	proc        *process.Process
	interval    time.Duration
	cpuLimit    float64
	memLimitPct float64

	lastCPU float64
	lastMem float64
}

// NewResourceGuard samples the current process every interval. cpuLimit
// and memLimitPct of 0 disable the corresponding threshold check.
func NewResourceGuard(reg *Registry, interval time.Duration, cpuLimit, memLimitPct float64) (*ResourceGuard, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ResourceGuard{
		reg:         reg,
		proc:        proc,
		interval:    interval,
		cpuLimit:    cpuLimit,
		memLimitPct: memLimitPct,
	}, nil
}

// StartMonitoring runs the sampling loop until ctx is done, the same
// ticker-plus-context-done shape the teacher's ResourceGuard uses.
func (g *ResourceGuard) StartMonitoring(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sample()
		case <-ctx.Done():
			return
		}
	}
}

func (g *ResourceGuard) sample() {
	if cpuPct, err := g.proc.CPUPercent(); err == nil {
		g.lastCPU = cpuPct
		g.reg.ResourceCPUPercent.Set(cpuPct)
	}
	if memInfo, err := g.proc.MemoryInfo(); err == nil && memInfo != nil {
		g.lastMem = float64(memInfo.RSS)
		g.reg.ResourceMemBytes.Set(g.lastMem)
	}
}

// Overloaded reports whether the last sample crossed either configured
// threshold. Callers use this to defer non-critical work (e.g. starting
// an optional plugin) rather than to reject required work.
func (g *ResourceGuard) Overloaded() bool {
	if g.cpuLimit > 0 && g.lastCPU > g.cpuLimit {
		return true
	}
	if g.memLimitPct > 0 {
		if vm, err := mem.VirtualMemory(); err == nil {
			usedPct := g.lastMem / float64(vm.Total) * 100
			if usedPct > g.memLimitPct {
				return true
			}
		}
	}
	return false
}
