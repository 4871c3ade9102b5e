package ingest

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// systemMemoryBudget computes the inferencer's abort threshold: total
// system memory times 0.8.
func systemMemoryBudget() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("ingest: read virtual memory: %w", err)
	}
	return uint64(float64(vm.Total) * 0.8), nil
}
