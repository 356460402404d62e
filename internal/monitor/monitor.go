package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"mkv-transcoder/pkg/models"
)

// DefaultSampleInterval is the CPU sampling window used by Health.
const DefaultSampleInterval = 500 * time.Millisecond

type SystemMonitor struct {
	stagingDir     string
	sampleInterval time.Duration

	once  sync.Once
	specs models.StaticHardware
	err   error
}

func NewSystemMonitor(stagingDir string) *SystemMonitor {
	return &SystemMonitor{
		stagingDir:     stagingDir,
		sampleInterval: DefaultSampleInterval,
	}
}

// HostSpecs gathers the static hardware report once; later calls return the
// cached value. accel is the list of usable hardware encoders found by the
// capability probe.
func (m *SystemMonitor) HostSpecs(ctx context.Context, accel []string) (models.StaticHardware, error) {
	// Hardware does not change at runtime.
	m.once.Do(func() {
		m.specs, m.err = detectSpecs(ctx)
	})
	if m.err != nil {
		return models.StaticHardware{}, m.err
	}
	specs := m.specs
	specs.HardwareAcceleration = accel
	if specs.HardwareAcceleration == nil {
		specs.HardwareAcceleration = []string{}
	}
	return specs, nil
}

func detectSpecs(ctx context.Context) (models.StaticHardware, error) {
	specs := models.StaticHardware{}

	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return specs, fmt.Errorf("failed to get cpu info: %w", err)
	}
	if len(infos) > 0 {
		specs.CPUModel = infos[0].ModelName
	}

	threads, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return specs, fmt.Errorf("failed to count cpu threads: %w", err)
	}
	specs.TotalThreads = threads

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return specs, fmt.Errorf("failed to get mem stats: %w", err)
	}
	specs.RAMTotalBytes = v.Total

	return specs, nil
}

// Health gathers real-time CPU, RAM and staging-volume usage.
func (m *SystemMonitor) Health(ctx context.Context) (models.SystemHealth, error) {
	health := models.SystemHealth{}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return health, fmt.Errorf("failed to get mem stats: %w", err)
	}
	health.RAMUsedPercent = v.UsedPercent
	health.RAMFreeBytes = v.Available

	cpuPct, err := cpu.PercentWithContext(ctx, m.sampleInterval, false)
	if err != nil {
		return health, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		health.CPUUsage = cpuPct[0]
	}

	if m.stagingDir != "" {
		free, err := FreeBytes(ctx, m.stagingDir)
		if err != nil {
			return health, err
		}
		health.StagingFreeBytes = free
	}

	return health, nil
}

// FreeBytes reports the bytes available to unprivileged users on the volume
// holding dir.
func FreeBytes(ctx context.Context, dir string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to get disk usage for %s: %w", dir, err)
	}
	return usage.Free, nil
}
