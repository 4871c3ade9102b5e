// Package sizer computes and continually adjusts the INSERT batch size from
// live memory telemetry: triple when RAM is very underused, double when
// moderately underused, divide by 1.5 when overused, always clamped to
// [10_000, 1_000_000].
package sizer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

const (
	estimatedRecordSizeBytes = 2 * 1024
	tripleThresholdFactor    = 0.60
	doubleThresholdFactor    = 0.75
	shrinkThresholdFactor    = 0.90
	doubleMultiplier         = 2.0
	shrinkDivisor            = 1.5

	// minAdjustInterval throttles Adjust so that several batches flushed
	// concurrently by different workers don't each apply a full step
	// against the same stale memory reading.
	minAdjustInterval = 500 * time.Millisecond
)

// Sizer holds a single running batch size, revised on each call to Adjust
// using the live memory percentage and the just-measured records/second. It
// is safe for concurrent use behind its own small lock.
type Sizer struct {
	mu             sync.Mutex
	current        int
	min            int
	max            int
	targetRAMUsage float64
	logger         *slog.Logger
	lastAdjust     time.Time
}

// New seeds a Sizer from a coarse estimate of available memory:
// (available_memory * 0.10) / 2048 bytes, clamped to [min, max].
func New(minBatch, maxBatch int, targetRAMUsage float64, logger *slog.Logger) (*Sizer, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("sizer: read virtual memory: %w", err)
	}

	seed := int(float64(vm.Available) * 0.10 / estimatedRecordSizeBytes)
	seed = clamp(seed, minBatch, maxBatch)

	return &Sizer{
		current:        seed,
		min:            minBatch,
		max:            maxBatch,
		targetRAMUsage: targetRAMUsage,
		logger:         logger,
	}, nil
}

// Current returns the sizer's current batch size without adjusting it.
func (s *Sizer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Seed overrides the starting batch size with an explicitly configured
// value, clamped to [min, max], in place of the memory-estimated seed from
// New. A non-positive n is a no-op, so an unset configuration value leaves
// the memory estimate untouched.
func (s *Sizer) Seed(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = clamp(n, s.min, s.max)
}

// DueForAdjust reports whether enough time has passed since the last Adjust
// to make another one worthwhile. Callers use it to skip the cost of
// sampling memory telemetry when a concurrent caller has adjusted recently.
func (s *Sizer) DueForAdjust() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAdjust) >= minAdjustInterval
}

// Adjust revises and returns the batch size given the current memory
// utilization fraction (0..1) and the just-measured records/second. It is
// evaluated after every batch, but calls arriving within minAdjustInterval
// of the last one are no-ops: several workers flushing concurrently would
// otherwise each apply a full step against the same stale memory reading.
func (s *Sizer) Adjust(ramUsageFraction float64, recordsPerSecond float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if since := time.Since(s.lastAdjust); since < minAdjustInterval {
		return s.current
	}
	s.lastAdjust = time.Now()

	before := s.current
	switch {
	case ramUsageFraction < s.targetRAMUsage*tripleThresholdFactor:
		s.current = clamp(int(float64(s.current)*3.0), s.min, s.max)
		if s.current > before {
			s.logger.Info("batch size tripled", "from", before, "to", s.current, "ram_usage_pct", ramUsageFraction*100, "records_per_sec", recordsPerSecond)
		}
	case ramUsageFraction < s.targetRAMUsage*doubleThresholdFactor:
		s.current = clamp(int(float64(s.current)*doubleMultiplier), s.min, s.max)
		if s.current > before {
			s.logger.Info("batch size doubled", "from", before, "to", s.current, "ram_usage_pct", ramUsageFraction*100)
		}
	case ramUsageFraction > s.targetRAMUsage*shrinkThresholdFactor:
		s.current = clamp(int(float64(s.current)/shrinkDivisor), s.min, s.max)
		if s.current < before {
			s.logger.Warn("batch size reduced", "from", before, "to", s.current, "ram_usage_pct", ramUsageFraction*100)
		}
	}

	return s.current
}

// Halve is used by the Batch Loader's BatchTooLarge recovery path: it
// shrinks the batch size independent of the memory heuristic and reports
// whether the floor has already been hit.
func (s *Sizer) Halve() (newSize int, atFloor bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current <= s.min {
		return s.current, true
	}
	before := s.current
	s.current = clamp(s.current/2, s.min, s.max)
	s.logger.Warn("batch size halved after BatchTooLarge", "from", before, "to", s.current)
	return s.current, s.current <= s.min
}

// SampleRAMUsage reads the current system-wide memory utilization fraction.
func SampleRAMUsage() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("sizer: read virtual memory: %w", err)
	}
	return vm.UsedPercent / 100.0, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	if v == 0 {
		return min
	}
	return v
}
