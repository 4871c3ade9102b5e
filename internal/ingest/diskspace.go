package ingest

import (
	"log/slog"

	"github.com/shirou/gopsutil/v4/disk"
)

// lowDiskSpaceThresholdGB is the free-space floor below which the preflight
// check warns; it never blocks a run.
const lowDiskSpaceThresholdGB = 10.0

// checkDiskSpace logs the free space available on path once at startup and
// warns if it falls below lowDiskSpaceThresholdGB. A read failure is logged
// and otherwise ignored; disk space is advisory, never fatal.
func checkDiskSpace(path string, logger *slog.Logger) {
	usage, err := disk.Usage(path)
	if err != nil {
		logger.Warn("could not check disk space", "path", path, "error", err)
		return
	}

	freeGB := float64(usage.Free) / (1024 * 1024 * 1024)
	logger.Info("disk space available", "path", path, "free_gb", freeGB)
	if freeGB < lowDiskSpaceThresholdGB {
		logger.Warn("disk space is low", "path", path, "free_gb", freeGB, "threshold_gb", lowDiskSpaceThresholdGB)
	}
}
