// Package router streams records out of a JSONL file, validates and
// normalizes them against the evolving schema, and fans structured-JSON
// fields out into per-field auxiliary buffers.
package router

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"anacingest/internal/ingesterr"
	"anacingest/internal/model"
	"anacingest/internal/schemamgr"
)

// RoutedRow is one record translated against the current schema: a tuple of
// values for the primary table, aligned to the schema's ColumnOrder, plus
// any structured-JSON fields serialized for their auxiliary tables.
type RoutedRow struct {
	CIG           string
	PrimaryValues []any             // aligned 1:1 with the schema's ColumnOrder at translation time
	ColumnOrder   []string          // snapshot of the column order used to build PrimaryValues
	AuxiliaryJSON map[string]string // sanitized field name -> compact JSON string, table is <name>_data
}

// Router translates raw decoded records into RoutedRows, consulting the
// Schema Manager whenever it meets a field name outside the current schema.
type Router struct {
	manager *schemamgr.Manager
	logger  *slog.Logger
}

// New builds a Router bound to manager.
func New(manager *schemamgr.Manager, logger *slog.Logger) *Router {
	return &Router{manager: manager, logger: logger}
}

// ScanFile streams path line by line, decoding each non-blank line as a JSON
// object and invoking yield. Malformed lines are logged and skipped, never
// fatal to the file. The file is never materialized whole in memory; only
// one line is held at a time.
func (r *Router) ScanFile(path string, yield func(fields map[string]any) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("router: open %q: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			r.logger.Warn("skipping malformed line", "file", path, "line", lineNo, "error", err)
			continue
		}

		if err := yield(fields); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Translate validates cig and builds a RoutedRow for one decoded record,
// ensuring every field has a schema column (creating one via the Schema
// Manager if this is the first time the field name is seen) before building
// the ordered tuple.
func (r *Router) Translate(ctx context.Context, fields map[string]any) (*RoutedRow, error) {
	cigVal, ok := fields["cig"]
	if !ok {
		return nil, ingesterr.MalformedRecord("record has no cig field", nil)
	}
	cig, ok := cigVal.(string)
	if !ok || strings.TrimSpace(cig) == "" {
		return nil, ingesterr.MalformedRecord("cig is empty or not a string", nil)
	}

	row := &RoutedRow{CIG: cig, AuxiliaryJSON: make(map[string]string)}

	normalized := make(map[string]any, len(fields))
	for rawName, value := range fields {
		if strings.EqualFold(rawName, "cig") {
			continue
		}
		if value == nil {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(rawName, " ", "_"))
		normalized[name] = value
	}

	sanitizedValues := make(map[string]any, len(normalized))
	for name, value := range normalized {
		sanitized, declaredType, err := r.manager.EnsureColumn(ctx, name, value)
		if err != nil {
			return nil, fmt.Errorf("router: ensure column for field %q: %w", name, err)
		}

		if declaredType == model.ColumnTypeJSON {
			encoded, marshalErr := json.Marshal(value)
			if marshalErr != nil {
				r.logger.Warn("skipping unserializable JSON field", "field", name, "cig", cig, "error", marshalErr)
				continue
			}
			row.AuxiliaryJSON[sanitized] = string(encoded)
			continue
		}

		sanitizedValues[sanitized] = value
	}

	schema := r.manager.Schema()
	row.ColumnOrder = schema.ColumnOrder
	row.PrimaryValues = make([]any, len(schema.ColumnOrder))
	for i, sanitized := range schema.ColumnOrder {
		row.PrimaryValues[i] = sanitizedValues[sanitized]
	}

	return row, nil
}
