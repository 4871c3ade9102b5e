// Package infer implements the two-pass schema inference engine: it scans a
// bounded sample of records per file, classifies every observed value into
// one of a closed set of pattern tags, and resolves a declared column type
// per field name using the priority rules in resolveDeclaredType.
package infer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"anacingest/internal/discover"
	"anacingest/internal/model"
)

const (
	maxRowsPerFile      = 2000
	memoryCheckInterval = 1000
	hardRowByteLimit    = 65_535
)

// Options tunes the inferencer beyond its fixed per-file sample bound.
type Options struct {
	// MaxMemoryBytes is the resident-memory budget (total system memory ×
	// 0.8) above which 90% usage aborts the remainder of a file's scan.
	MaxMemoryBytes uint64
}

// Inferencer scans files and accumulates field descriptors across the whole
// corpus.
type Inferencer struct {
	opts   Options
	logger *slog.Logger
	proc   *process.Process
}

// New builds an Inferencer. logger is tagged with component=inferencer by
// the caller's convention; proc is used for the per-file memory check.
func New(opts Options, logger *slog.Logger) (*Inferencer, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("infer: resolve own process: %w", err)
	}
	return &Inferencer{opts: opts, logger: logger, proc: proc}, nil
}

// InferCorpus scans every file and returns the accumulated per-field-name
// descriptors (keyed by lowercased, space-normalized field name), each with
// its declared type resolved. A file that fails to scan is logged and
// skipped.
func (inf *Inferencer) InferCorpus(files []discover.File) (map[string]*model.FieldDescriptor, error) {
	fields := make(map[string]*model.FieldDescriptor)

	for _, file := range files {
		if err := inf.scanFile(file, fields); err != nil {
			inf.logger.Warn("skipping file after scan error", "file", file.Path, "error", err)
		}
	}

	for name, f := range fields {
		resolveDeclaredType(name, f)
	}

	if err := applyRowWidthCheck(fields); err != nil {
		return nil, err
	}

	return fields, nil
}

func (inf *Inferencer) scanFile(file discover.File, fields map[string]*model.FieldDescriptor) error {
	f, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("infer: open %q: %w", file.Path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	rowCount := 0
	for scanner.Scan() {
		if rowCount >= maxRowsPerFile {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			inf.logger.Debug("skipping malformed line during inference", "file", file.Path, "error", err)
			continue
		}
		rowCount++

		for rawName, value := range record {
			if value == nil {
				continue
			}
			name := strings.ToLower(strings.ReplaceAll(rawName, " ", "_"))
			fd, ok := fields[name]
			if !ok {
				fd = &model.FieldDescriptor{OriginalName: rawName, Patterns: make(map[model.PatternTag]bool)}
				fields[name] = fd
			}
			observe(fd, value)
		}

		if rowCount%memoryCheckInterval == 0 {
			exceeded, checkErr := inf.memoryExceeded()
			if checkErr != nil {
				inf.logger.Warn("memory check failed, continuing scan", "file", file.Path, "error", checkErr)
			} else if exceeded {
				inf.logger.Warn("aborting file scan: resident memory exceeded budget", "file", file.Path, "rows_scanned", rowCount)
				break
			}
		}
	}

	return scanner.Err()
}

// ClassifyAndResolve applies the full pattern-classification and
// priority-rule cascade to a single witnessed value, with no accumulated
// length history. It is used by the Schema Manager's runtime evolution
// path, which has only the first witnessed value to go on.
func ClassifyAndResolve(fieldName string, value any) *model.FieldDescriptor {
	fd := &model.FieldDescriptor{OriginalName: fieldName, Patterns: make(map[model.PatternTag]bool)}
	observe(fd, value)
	resolveDeclaredType(strings.ToLower(strings.ReplaceAll(fieldName, " ", "_")), fd)
	return fd
}

func observe(fd *model.FieldDescriptor, value any) {
	tag, mixed := classify(value)
	fd.AddPattern(tag)
	if mixed {
		fd.Mixed = true
	}
	if s, ok := value.(string); ok {
		if l := len(s); l > fd.MaxLength {
			fd.MaxLength = l
		}
	}
}

// memoryExceeded reports whether resident memory exceeds 90% of the
// configured budget, checked every 1000 records.
func (inf *Inferencer) memoryExceeded() (bool, error) {
	if inf.opts.MaxMemoryBytes == 0 {
		return false, nil
	}
	info, err := inf.proc.MemoryInfo()
	if err != nil {
		return false, fmt.Errorf("infer: read process memory info: %w", err)
	}
	return float64(info.RSS) > float64(inf.opts.MaxMemoryBytes)*0.90, nil
}

// applyRowWidthCheck estimates per-row byte width across all resolved
// fields and, if the total exceeds the hard relational-store row limit,
// promotes every bounded text of 500 to unbounded text. The estimate is not
// recomputed after the promotion, and the function always returns nil, even
// if the promoted row is still over the limit. This is the only retyping
// step permitted after initial resolution.
func applyRowWidthCheck(fields map[string]*model.FieldDescriptor) error {
	if estimateRowWidth(fields) <= hardRowByteLimit {
		return nil
	}

	for _, f := range fields {
		if f.DeclaredType == model.ColumnTypeBoundedText && f.BoundedTextSize == 500 {
			f.DeclaredType = model.ColumnTypeUnboundedText
			f.BoundedTextSize = 0
		}
	}

	return nil
}

// estimateRowWidth sums per-field byte estimates: bounded text × 3 (for
// 4-byte UTF-8 worst case), 8 for decimal/datetime, 0 for structured-JSON
// fields (routed to auxiliary tables, not stored inline).
func estimateRowWidth(fields map[string]*model.FieldDescriptor) int {
	total := 0
	for _, f := range fields {
		switch f.DeclaredType {
		case model.ColumnTypeBoundedText:
			total += f.BoundedTextSize * 3
		case model.ColumnTypeUnboundedText:
			// unbounded text is stored off-page; it does not count against
			// the fixed row-width ceiling.
		case model.ColumnTypeDecimal, model.ColumnTypeDatetime, model.ColumnTypeDate:
			total += 8
		case model.ColumnTypeInt32:
			total += 4
		case model.ColumnTypeBoolean:
			total += 1
		case model.ColumnTypeJSON:
			// routed to an auxiliary table.
		}
	}
	return total
}
