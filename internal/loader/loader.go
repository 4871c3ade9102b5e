// Package loader executes multi-row INSERTs against the primary and
// auxiliary tables, with recovery for width-exceeded errors, packet-too-large
// errors, and transient connection loss.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"anacingest/internal/ingesterr"
	"anacingest/internal/router"
	"anacingest/internal/schemamgr"
	"anacingest/internal/sizer"
)

const (
	connectionRetryAttempts = 3
	connectionRetryBase     = 2 * time.Second
)

// Loader executes chunked INSERTs for one run, sharing the schema manager
// so it can request column widenings on WidthExceeded recovery.
type Loader struct {
	db      *sql.DB
	manager *schemamgr.Manager
	sizer   *sizer.Sizer
	logger  *slog.Logger
}

// New builds a Loader bound to db.
func New(db *sql.DB, manager *schemamgr.Manager, sz *sizer.Sizer, logger *slog.Logger) *Loader {
	return &Loader{db: db, manager: manager, sizer: sz, logger: logger}
}

// LoadPrimaryBatch chunks rows per the Adaptive Sizer's current batch size
// and issues one multi-row INSERT per chunk against main_data. columnOrder
// is the sanitized column order the rows were built against.
func (l *Loader) LoadPrimaryBatch(ctx context.Context, rows []*router.RoutedRow, columnOrder []string, sourceFile, batchID string) error {
	chunkSize := l.sizer.Current()

	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := l.loadPrimaryChunk(ctx, rows[start:end], columnOrder, sourceFile, batchID); err != nil {
			return err
		}
		chunkSize = l.sizer.Current()
	}
	return nil
}

func (l *Loader) loadPrimaryChunk(ctx context.Context, chunk []*router.RoutedRow, columnOrder []string, sourceFile, batchID string) error {
	stmt, args := buildPrimaryInsert(chunk, columnOrder, sourceFile, batchID)
	err := l.execWithRecovery(ctx, "main_data", stmt, args)
	if err == nil || !errorsIsBatchTooLarge(err) {
		return err
	}

	// Packet-too-large: the sizer has already halved; resplit this chunk in
	// two and retry each half once. If the floor has already been hit the
	// sizer reports so via the wrapped error and there is nothing left to
	// shrink, so the failure escalates.
	if len(chunk) <= 1 {
		return err
	}
	mid := len(chunk) / 2
	if subErr := l.loadPrimaryChunk(ctx, chunk[:mid], columnOrder, sourceFile, batchID); subErr != nil {
		return subErr
	}
	return l.loadPrimaryChunk(ctx, chunk[mid:], columnOrder, sourceFile, batchID)
}

// buildPrimaryInsert renders one parameterized multi-row INSERT ... ON
// DUPLICATE KEY UPDATE for the primary table, keyed on cig, so
// re-processing a file is idempotent.
func buildPrimaryInsert(chunk []*router.RoutedRow, columnOrder []string, sourceFile, batchID string) (string, []any) {
	cols := append([]string{"cig"}, columnOrder...)
	cols = append(cols, "source_file", "batch_id")

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = "`" + c + "`"
	}

	placeholderRow := "(" + strings.TrimRight(strings.Repeat("?,", len(cols)), ",") + ")"
	placeholders := make([]string, len(chunk))
	args := make([]any, 0, len(chunk)*len(cols))

	for i, row := range chunk {
		placeholders[i] = placeholderRow
		args = append(args, row.CIG)
		args = append(args, row.PrimaryValues...)
		args = append(args, sourceFile, batchID)
	}

	var updateParts []string
	for _, c := range columnOrder {
		updateParts = append(updateParts, fmt.Sprintf("`%s` = VALUES(`%s`)", c, c))
	}
	updateParts = append(updateParts, "`source_file` = VALUES(`source_file`)", "`batch_id` = VALUES(`batch_id`)")

	stmt := fmt.Sprintf(
		"INSERT INTO `main_data` (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "), strings.Join(updateParts, ", "),
	)
	return stmt, args
}

// LoadAuxiliaryBatch upserts one auxiliary table's rows (cig, json, source,
// batch) for every row in rows carrying a value for field sanitizedField.
func (l *Loader) LoadAuxiliaryBatch(ctx context.Context, sanitizedField string, rows []*router.RoutedRow, sourceFile, batchID string) error {
	table := sanitizedField + "_data"
	jsonCol := sanitizedField + "_json"

	chunkSize := l.sizer.Current()
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		var values []string
		var args []any
		for _, row := range chunk {
			encoded, ok := row.AuxiliaryJSON[sanitizedField]
			if !ok {
				continue
			}
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, row.CIG, encoded, sourceFile, batchID)
		}
		if len(values) == 0 {
			continue
		}

		stmt := fmt.Sprintf(
			"INSERT INTO `%s` (`cig`, `%s`, `source_file`, `batch_id`) VALUES %s "+
				"ON DUPLICATE KEY UPDATE `%s` = VALUES(`%s`), `source_file` = VALUES(`source_file`), `batch_id` = VALUES(`batch_id`)",
			table, jsonCol, strings.Join(values, ", "), jsonCol, jsonCol,
		)
		if err := l.execAuxiliaryChunk(ctx, table, sanitizedField, chunk, sourceFile, batchID, stmt, args); err != nil {
			return err
		}
		chunkSize = l.sizer.Current()
	}
	return nil
}

// execAuxiliaryChunk issues one auxiliary insert and, on BatchTooLarge,
// resplits and retries the same chunk in two halves, mirroring
// loadPrimaryChunk's recovery.
func (l *Loader) execAuxiliaryChunk(ctx context.Context, table, sanitizedField string, chunk []*router.RoutedRow, sourceFile, batchID, stmt string, args []any) error {
	err := l.execWithRecovery(ctx, table, stmt, args)
	if err == nil || !errorsIsBatchTooLarge(err) || len(chunk) <= 1 {
		return err
	}

	mid := len(chunk) / 2
	if subErr := l.LoadAuxiliaryBatch(ctx, sanitizedField, chunk[:mid], sourceFile, batchID); subErr != nil {
		return subErr
	}
	return l.LoadAuxiliaryBatch(ctx, sanitizedField, chunk[mid:], sourceFile, batchID)
}

// execWithRecovery issues stmt and applies the recovery ladder:
// data-too-long widens the offending column and retries once; packet-too-large
// halves the batch size and returns BatchTooLarge, or BatchSizeFloor once
// the sizer is already at its floor;
// connection loss retries up to three times with doubling backoff starting
// at 2 seconds.
func (l *Loader) execWithRecovery(ctx context.Context, table, stmt string, args []any) error {
	operation := func() error {
		_, err := l.db.ExecContext(ctx, stmt, args...)
		if err == nil {
			return nil
		}

		switch {
		case isDataTooLong(err):
			column := extractOffendingColumn(err.Error())
			if column == "" {
				return backoff.Permanent(fmt.Errorf("loader: data-too-long on %s, could not identify column: %w", table, err))
			}
			l.logger.Warn("widening column after data-too-long", "table", table, "column", column)
			if widenErr := l.manager.WidenColumn(ctx, column); widenErr != nil {
				return backoff.Permanent(fmt.Errorf("loader: widen column %q: %w", column, widenErr))
			}
			if _, retryErr := l.db.ExecContext(ctx, stmt, args...); retryErr != nil {
				return backoff.Permanent(ingesterr.WidthExceeded(column, retryErr))
			}
			return nil

		case isPacketTooLarge(err):
			// Halving here shrinks the sizer for every future chunk; the
			// caller resplits and retries this specific chunk once it sees
			// ErrBatchTooLarge. Re-sending the identical oversized statement
			// through this same retry loop would fail the same way, so this
			// is always Permanent from backoff's point of view.
			newSize, atFloor := l.sizer.Halve()
			if atFloor {
				return backoff.Permanent(ingesterr.BatchSizeFloor(fmt.Sprintf("batch size floor %d reached", newSize), err))
			}
			return backoff.Permanent(ingesterr.BatchTooLarge(fmt.Sprintf("retry at reduced batch size %d", newSize), err))

		case isConnectionLost(err):
			return ingesterr.ConnectionLost(err)

		default:
			return backoff.Permanent(fmt.Errorf("loader: insert into %s: %w", table, err))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectionRetryBase
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0
	boWithCtx := backoff.WithContext(backoff.WithMaxRetries(bo, connectionRetryAttempts-1), ctx)

	attempt := 0
	return backoff.RetryNotify(operation, boWithCtx, func(err error, wait time.Duration) {
		attempt++
		l.logger.Warn("retrying insert after recoverable error", "table", table, "attempt", attempt, "wait", wait, "error", err)
	})
}

func errorsIsBatchTooLarge(err error) bool {
	return errors.Is(err, ingesterr.ErrBatchTooLarge)
}

func isDataTooLong(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "data too long") || strings.Contains(msg, "1406")
}

func isPacketTooLarge(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "packet too large") || strings.Contains(msg, "1153") || strings.Contains(msg, "max_allowed_packet")
}

func isConnectionLost(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "broken pipe", "server has gone away", "eof", "i/o timeout", "reset by peer", "invalid connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// extractOffendingColumn parses a MySQL 1406 error message of the shape
// "Data too long for column 'foo' at row N" to pull out the column name.
func extractOffendingColumn(msg string) string {
	const marker = "column '"
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return ""
	}
	rest := msg[idx+len(marker):]
	end := strings.Index(rest, "'")
	if end < 0 {
		return ""
	}
	return rest[:end]
}
