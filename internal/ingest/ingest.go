// Package ingest wires the ingestion core's components together: it
// discovers files, runs inference, realizes the schema, then streams and
// loads each unprocessed file, gating entry through the resume ledger.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"anacingest/internal/config"
	"anacingest/internal/discover"
	"anacingest/internal/infer"
	"anacingest/internal/ledger"
	"anacingest/internal/loader"
	"anacingest/internal/model"
	"anacingest/internal/pool"
	"anacingest/internal/router"
	"anacingest/internal/schemamgr"
	"anacingest/internal/sizer"
)

// Result summarizes one run for the CLI's exit-code decision.
type Result struct {
	RunID       string
	FilesTotal  int
	FilesOK     int
	FilesFailed int
	FailedFiles []string
}

// Orchestrator runs the full ingestion pipeline for one invocation.
type Orchestrator struct {
	cfg     *config.Config
	logger  *slog.Logger
	pool    *pool.Pool
	manager *schemamgr.Manager
	sizer   *sizer.Sizer
	router  *router.Router
	loader  *loader.Loader
	ledger  *ledger.Ledger
	runID   string
	workers int

	cancelled atomic.Bool
}

// New wires every component against a freshly opened connection pool.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	p, err := pool.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("ingest: open pool: %w", err)
	}

	sz, err := sizer.New(cfg.SizerMinBatch, cfg.SizerMaxBatch, cfg.SizerTargetRAMUsage, logger.With("component", "sizer"))
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("ingest: build sizer: %w", err)
	}
	sz.Seed(cfg.ImportBatchSize)

	manager := schemamgr.New(p.DB(), logger.With("component", "schemamgr"))
	rtr := router.New(manager, logger.With("component", "router"))
	ldr := loader.New(p.DB(), manager, sz, logger.With("component", "loader"))
	led := ledger.New(p.DB())

	workers := runtime.NumCPU() - 1
	if workers < 4 {
		workers = 4
	}

	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		pool:    p,
		manager: manager,
		sizer:   sz,
		router:  rtr,
		loader:  ldr,
		ledger:  led,
		runID:   uuid.NewString(),
		workers: workers,
	}, nil
}

// Close releases the underlying connection pool.
func (o *Orchestrator) Close() error {
	return o.pool.Close()
}

// Cancel sets the cooperative cancel flag; the orchestrator stops between
// files and between batches, letting in-flight batches complete or fail.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Run executes the full pipeline: discover, infer, realize, then process
// every unprocessed file in sequence.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	checkDiskSpace(o.cfg.JSONBasePath, o.logger)

	files, err := discover.Discover(o.cfg.JSONBasePath, o.logger)
	if err != nil {
		return nil, fmt.Errorf("ingest: discover files: %w", err)
	}

	result := &Result{RunID: o.runID, FilesTotal: len(files)}
	if len(files) == 0 {
		o.logger.Info("no input files found, nothing to do", "path", o.cfg.JSONBasePath)
		return result, nil
	}

	inferencer, err := infer.New(infer.Options{MaxMemoryBytes: estimateMemoryBudget()}, o.logger.With("component", "inferencer"))
	if err != nil {
		return nil, fmt.Errorf("ingest: build inferencer: %w", err)
	}

	fields, err := inferencer.InferCorpus(files)
	if err != nil {
		return nil, fmt.Errorf("ingest: infer schema: %w", err)
	}
	o.logger.Info("schema inference complete", "fields_discovered", len(fields))

	if err := o.manager.Realize(ctx, fields); err != nil {
		return nil, fmt.Errorf("ingest: realize schema: %w", err)
	}

	o.logger.Info("starting ingestion run", "run_id", o.runID, "files", len(files))

	tracker := ledger.NewProgressTracker(len(files))
	var totalRecords int64

	for fileIndex, file := range files {
		if o.cancelled.Load() {
			o.logger.Warn("cooperative cancel observed, stopping before next file")
			break
		}

		completed, err := o.ledger.IsCompleted(ctx, file.Name)
		if err != nil {
			return result, fmt.Errorf("ingest: check ledger for %q: %w", file.Name, err)
		}
		if completed {
			o.logger.Info("skipping already-completed file", "file", file.Name)
			result.FilesOK++
			continue
		}

		tracker.StartFile()
		batchID := fmt.Sprintf("%d_%d_%s", time.Now().Unix(), fileIndex, o.runID[:8])

		recordCount, procErr := o.processFile(ctx, file, batchID, tracker)
		elapsed, _ := tracker.FinishFile()
		totalRecords += recordCount

		entry := model.LedgerEntry{
			FileName:    file.Name,
			ProcessedAt: time.Now(),
			RecordCount: recordCount,
		}
		if procErr != nil {
			entry.Status = model.LedgerFailed
			entry.ErrorMessage = procErr.Error()
			result.FilesFailed++
			result.FailedFiles = append(result.FailedFiles, file.Name)
			o.logger.Error("file processing failed", "file", file.Name, "error", procErr)
		} else {
			entry.Status = model.LedgerCompleted
			result.FilesOK++
			o.logger.Info("file processed", "file", file.Name, "records", recordCount, "elapsed", elapsed)
		}

		if upsertErr := o.ledger.Upsert(ctx, entry); upsertErr != nil {
			o.logger.Error("failed to persist ledger entry, continuing", "file", file.Name, "error", upsertErr)
		}

		if avg := averageRecordsPerFile(totalRecords, result.FilesOK+result.FilesFailed); avg > 0 {
			if eta := tracker.ETA(avg); eta > 0 {
				o.logger.Info("progress", "files_done", tracker.FilesDone(), "files_total", len(files), "eta", eta)
			}
		}
	}

	return result, nil
}

// processFile streams one file's records, grouping them into adaptive
// batches by the Sizer's current batch size, distributing batch
// translation/loading across a bounded worker group.
func (o *Orchestrator) processFile(ctx context.Context, file discover.File, batchID string, tracker *ledger.ProgressTracker) (int64, error) {
	var (
		mu      sync.Mutex
		pending []*router.RoutedRow
		total   int64
		wg      sync.WaitGroup
		sem     = make(chan struct{}, o.workers)
		firstErr error
	)

	flush := func(batch []*router.RoutedRow) {
		defer wg.Done()
		defer func() { <-sem }()

		start := time.Now()
		schema := o.manager.Schema()
		if err := o.loader.LoadPrimaryBatch(ctx, batch, schema.ColumnOrder, file.Name, batchID); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("load primary batch: %w", err)
			}
			mu.Unlock()
			return
		}

		for sanitized := range schema.AuxiliaryTables {
			if err := o.loader.LoadAuxiliaryBatch(ctx, sanitized, batch, file.Name, batchID); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("load auxiliary batch for %q: %w", sanitized, err)
				}
				mu.Unlock()
				return
			}
		}

		tracker.RecordProgress(int64(len(batch)))

		elapsed := time.Since(start).Seconds()
		if elapsed > 0 && o.sizer.DueForAdjust() {
			if ramUsage, err := sizer.SampleRAMUsage(); err != nil {
				o.logger.Warn("skipping batch size adjustment", "error", err)
			} else {
				o.sizer.Adjust(ramUsage, float64(len(batch))/elapsed)
			}
		}
	}

	scanErr := o.router.ScanFile(file.Path, func(raw map[string]any) error {
		if o.cancelled.Load() {
			return fmt.Errorf("ingest: cancelled mid-file")
		}

		row, err := o.router.Translate(ctx, raw)
		if err != nil {
			o.logger.Warn("dropping record", "file", file.Name, "error", err)
			return nil
		}

		mu.Lock()
		pending = append(pending, row)
		total++
		ready := len(pending) >= o.sizer.Current()
		var batch []*router.RoutedRow
		if ready {
			batch = pending
			pending = nil
		}
		mu.Unlock()

		if ready {
			sem <- struct{}{}
			wg.Add(1)
			go flush(batch)
		}
		return nil
	})

	mu.Lock()
	remaining := pending
	pending = nil
	mu.Unlock()
	if len(remaining) > 0 {
		sem <- struct{}{}
		wg.Add(1)
		go flush(remaining)
	}

	wg.Wait()

	if scanErr != nil {
		return total, scanErr
	}
	return total, firstErr
}

func averageRecordsPerFile(totalRecords int64, filesDone int) float64 {
	if filesDone == 0 {
		return 0
	}
	return float64(totalRecords) / float64(filesDone)
}

// estimateMemoryBudget is read by the inferencer as total system memory ×
// 0.8.
func estimateMemoryBudget() uint64 {
	budget, err := systemMemoryBudget()
	if err != nil {
		return 0
	}
	return budget
}
