package sizer

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newForTest(t *testing.T, current, min, max int, target float64) *Sizer {
	t.Helper()
	s, err := New(min, max, target, nopLogger())
	require.NoError(t, err)
	s.current = current
	return s
}

func TestAdjustTriplesWhenFarUnderTarget(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	got := s.Adjust(0.10, 5000)
	assert.Equal(t, 30_000, got)
}

func TestAdjustDoublesWhenModeratelyUnderTarget(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	got := s.Adjust(0.55, 5000)
	assert.Equal(t, 20_000, got)
}

func TestAdjustDividesByOneAndAHalfWhenOverTarget(t *testing.T) {
	s := newForTest(t, 100_000, 10_000, 1_000_000, 0.80)
	got := s.Adjust(0.95, 5000)
	assert.InDelta(t, 66_666, got, 1)
}

func TestAdjustClampsToMax(t *testing.T) {
	s := newForTest(t, 900_000, 10_000, 1_000_000, 0.80)
	got := s.Adjust(0.10, 5000)
	assert.Equal(t, 1_000_000, got)
}

func TestAdjustClampsToMin(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	got := s.Adjust(0.99, 5000)
	assert.Equal(t, 10_000, got)
}

func TestAdjustNoChangeInMiddleBand(t *testing.T) {
	s := newForTest(t, 50_000, 10_000, 1_000_000, 0.80)
	got := s.Adjust(0.65, 5000)
	assert.Equal(t, 50_000, got)
}

func TestHalveReportsFloorOnce(t *testing.T) {
	s := newForTest(t, 15_000, 10_000, 1_000_000, 0.80)
	newSize, atFloor := s.Halve()
	assert.Equal(t, 10_000, newSize)
	assert.True(t, atFloor)
}

func TestHalveReportsNotAtFloorAboveMin(t *testing.T) {
	s := newForTest(t, 100_000, 10_000, 1_000_000, 0.80)
	newSize, atFloor := s.Halve()
	assert.Less(t, newSize, 100_000)
	assert.False(t, atFloor)
}

func TestHalveIsIdempotentAtFloor(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	newSize, atFloor := s.Halve()
	assert.Equal(t, 10_000, newSize)
	assert.True(t, atFloor)
}

func TestCurrentDoesNotMutate(t *testing.T) {
	s := newForTest(t, 42_000, 10_000, 1_000_000, 0.80)
	assert.Equal(t, 42_000, s.Current())
	assert.Equal(t, 42_000, s.Current())
}

func TestAdjustThrottlesBackToBackCalls(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	first := s.Adjust(0.10, 5000)
	assert.Equal(t, 30_000, first)

	second := s.Adjust(0.10, 5000)
	assert.Equal(t, first, second, "a call within minAdjustInterval of the last is a no-op")
}

func TestDueForAdjustIsTrueInitiallyAndFalseRightAfterAdjusting(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	assert.True(t, s.DueForAdjust())
	s.Adjust(0.10, 5000)
	assert.False(t, s.DueForAdjust())
}

func TestSeedOverridesCurrentClampedToBounds(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	s.Seed(75_000)
	assert.Equal(t, 75_000, s.Current())
}

func TestSeedClampsToMax(t *testing.T) {
	s := newForTest(t, 10_000, 10_000, 1_000_000, 0.80)
	s.Seed(5_000_000)
	assert.Equal(t, 1_000_000, s.Current())
}

func TestSeedIsNoopForNonPositiveValues(t *testing.T) {
	s := newForTest(t, 42_000, 10_000, 1_000_000, 0.80)
	s.Seed(0)
	assert.Equal(t, 42_000, s.Current())
}
