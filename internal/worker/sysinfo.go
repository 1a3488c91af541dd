package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// systemMetadata samples host load for the heartbeat. Failures degrade to an
// empty map; a heartbeat without load data is still a heartbeat.
func systemMetadata() map[string]string {
	out := make(map[string]string)

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["cpuPercent"] = fmt.Sprintf("%.1f", percents[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["memPercent"] = fmt.Sprintf("%.1f", vm.UsedPercent)
	}

	return out
}
