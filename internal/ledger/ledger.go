// Package ledger persists per-file completion state in processed_files and
// tracks in-memory run progress for ETA computation.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"anacingest/internal/model"
)

// trailingSpeedWindow is how many recent file-level speeds feed the ETA's
// moving average.
const trailingSpeedWindow = 5

// Ledger wraps the persisted processed_files table.
type Ledger struct {
	db *sql.DB
}

// New builds a Ledger bound to db.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// IsCompleted reports whether fileName already has a `completed` entry, in
// which case the orchestrator should skip it on resume.
func (l *Ledger) IsCompleted(ctx context.Context, fileName string) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx,
		"SELECT `status` FROM `processed_files` WHERE `file_name` = ?", fileName,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: check status for %q: %w", fileName, err)
	}
	return status == string(model.LedgerCompleted), nil
}

// Upsert records the terminal outcome for fileName, overwriting any prior
// entry (a failed file retried and later completed replaces its row).
func (l *Ledger) Upsert(ctx context.Context, entry model.LedgerEntry) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO `processed_files` (`file_name`, `processed_at`, `record_count`, `status`, `error_message`) "+
			"VALUES (?, ?, ?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE `processed_at` = VALUES(`processed_at`), `record_count` = VALUES(`record_count`), "+
			"`status` = VALUES(`status`), `error_message` = VALUES(`error_message`)",
		entry.FileName, entry.ProcessedAt, entry.RecordCount, string(entry.Status), entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("ledger: upsert entry for %q: %w", entry.FileName, err)
	}
	return nil
}

// fileProgress tracks one in-flight file's counters.
type fileProgress struct {
	startedAt   time.Time
	recordCount int64
}

// ProgressTracker is the in-memory counterpart to Ledger: it computes a
// running ETA from the trailing file-level speeds, guarded by its own lock
// since workers report progress concurrently even though each worker owns
// its own connection.
type ProgressTracker struct {
	mu             sync.Mutex
	totalFiles     int
	filesDone      int
	current        *fileProgress
	trailingSpeeds []float64 // records/sec for each of the last completed files
}

// NewProgressTracker builds a tracker for a run of totalFiles files.
func NewProgressTracker(totalFiles int) *ProgressTracker {
	return &ProgressTracker{totalFiles: totalFiles}
}

// StartFile marks the beginning of a new file's processing.
func (p *ProgressTracker) StartFile() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &fileProgress{startedAt: time.Now()}
}

// RecordProgress adds delta to the current file's running record count.
func (p *ProgressTracker) RecordProgress(delta int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.recordCount += delta
	}
}

// FinishFile closes out the current file, folding its speed into the
// trailing window, and returns the file's elapsed duration and record count.
func (p *ProgressTracker) FinishFile() (elapsed time.Duration, recordCount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return 0, 0
	}
	elapsed = time.Since(p.current.startedAt)
	recordCount = p.current.recordCount
	p.filesDone++

	if elapsed > 0 {
		speed := float64(recordCount) / elapsed.Seconds()
		p.trailingSpeeds = append(p.trailingSpeeds, speed)
		if len(p.trailingSpeeds) > trailingSpeedWindow {
			p.trailingSpeeds = p.trailingSpeeds[len(p.trailingSpeeds)-trailingSpeedWindow:]
		}
	}
	p.current = nil
	return elapsed, recordCount
}

// ETA estimates remaining run time as
// remaining_files * average_records_per_file / trailing_avg_speed.
// Returns 0 if there is not yet enough history to estimate.
func (p *ProgressTracker) ETA(averageRecordsPerFile float64) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := p.totalFiles - p.filesDone
	if remaining <= 0 || len(p.trailingSpeeds) == 0 {
		return 0
	}

	var sum float64
	for _, s := range p.trailingSpeeds {
		sum += s
	}
	avgSpeed := sum / float64(len(p.trailingSpeeds))
	if avgSpeed <= 0 {
		return 0
	}

	seconds := float64(remaining) * averageRecordsPerFile / avgSpeed
	return time.Duration(seconds * float64(time.Second))
}

// FilesDone reports how many files have completed so far.
func (p *ProgressTracker) FilesDone() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filesDone
}
