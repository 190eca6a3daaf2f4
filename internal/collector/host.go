package collector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostSourceName is the name the default dimension table refers to
const HostSourceName = "host"

// HostSource reports host headroom: each reading is 1 minus the
// utilisation of a resource, so 1.0 means idle and 0.0 means saturated.
//
// Fields: cpu, memory, swap, disk, load.
type HostSource struct {
	// DiskPath is the filesystem whose usage feeds the disk reading
	DiskPath string
}

// NewHostSource creates a host source watching the filesystem at diskPath
func NewHostSource(diskPath string) *HostSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSource{DiskPath: diskPath}
}

func (h *HostSource) Name() string { return HostSourceName }

// Snapshot reads every host metric it can. A metric that fails is left
// out so the collector substitutes the default; only a total failure is
// reported as an error.
func (h *HostSource) Snapshot(ctx context.Context) (map[string]float64, error) {
	readings := make(map[string]float64, 5)
	var errs []error

	// interval 0 compares against the previous call instead of blocking
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		errs = append(errs, fmt.Errorf("cpu: %w", err))
	} else if len(pct) > 0 {
		readings["cpu"] = headroom(pct[0])
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		readings["memory"] = headroom(vm.UsedPercent)
	}

	if sw, err := mem.SwapMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("swap: %w", err))
	} else if sw.Total == 0 {
		readings["swap"] = 1.0
	} else {
		readings["swap"] = headroom(sw.UsedPercent)
	}

	if usage, err := disk.UsageWithContext(ctx, h.DiskPath); err != nil {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	} else {
		readings["disk"] = headroom(usage.UsedPercent)
	}

	if avg, err := load.AvgWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("load: %w", err))
	} else if cores, err := cpu.CountsWithContext(ctx, true); err != nil || cores == 0 {
		errs = append(errs, fmt.Errorf("load: cpu count unavailable"))
	} else {
		readings["load"] = math.Max(0, 1-avg.Load1/float64(cores))
	}

	if len(readings) == 0 {
		return nil, fmt.Errorf("no host metrics available: %w", errors.Join(errs...))
	}
	return readings, nil
}

// headroom converts a utilisation percentage to a [0,1] score
func headroom(usedPercent float64) float64 {
	return math.Max(0, math.Min(1, 1-usedPercent/100))
}
