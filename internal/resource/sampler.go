package resource

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tmarlin/clipharvest/internal/domain"
)

// SystemSampler reads host usage via gopsutil. Free disk is measured on the
// filesystem holding path, which should be the batch's working directory.
func SystemSampler(path string) SampleFunc {
	return func() (domain.ResourceSample, error) {
		percents, err := cpu.Percent(0, false)
		if err != nil {
			return domain.ResourceSample{}, fmt.Errorf("cpu usage: %w", err)
		}
		var cpuPercent float64
		if len(percents) > 0 {
			cpuPercent = percents[0]
		}

		vm, err := mem.VirtualMemory()
		if err != nil {
			return domain.ResourceSample{}, fmt.Errorf("memory usage: %w", err)
		}

		du, err := disk.Usage(path)
		if err != nil {
			return domain.ResourceSample{}, fmt.Errorf("disk usage: %w", err)
		}

		return domain.ResourceSample{
			CPUPercent:    cpuPercent,
			MemoryPercent: vm.UsedPercent,
			FreeDiskGB:    float64(du.Free) / (1 << 30),
			Timestamp:     time.Now().UTC(),
		}, nil
	}
}
