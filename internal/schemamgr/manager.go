// Package schemamgr owns the target relational schema: it sanitizes field
// names, creates the primary and auxiliary tables, and evolves the primary
// table by adding columns as new fields are discovered mid-stream. Every
// generated DDL statement is self-validated by parsing it back with TiDB's
// SQL parser before execution, the same defensive pattern used elsewhere
// in this codebase to split and verify migration statements.
package schemamgr

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/tidb/pkg/parser"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"anacingest/internal/infer"
	"anacingest/internal/ingesterr"
	"anacingest/internal/model"
)

// Manager owns the schema's evolution under a single mutex: schema
// alterations block all writers until the mutex is released.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger
	parser *parser.Parser

	mu       sync.Mutex
	schema   *model.Schema
	columns  map[string]bool // sanitized column name -> exists, for main_data
	existing map[string]bool // every sanitized name ever assigned, for collision detection
	mappings []fieldMapping
}

type fieldMapping struct {
	Original  string
	Sanitized string
	FieldType model.ColumnType
}

// declaredTypeOrder fixes the column emission order within the primary
// table: non-cig fields are appended in declared-type order.
var declaredTypeOrder = map[model.ColumnType]int{
	model.ColumnTypeBoundedText:   0,
	model.ColumnTypeUnboundedText: 1,
	model.ColumnTypeInt32:         2,
	model.ColumnTypeDecimal:       3,
	model.ColumnTypeDate:          4,
	model.ColumnTypeDatetime:      5,
	model.ColumnTypeBoolean:       6,
	model.ColumnTypeJSON:          7,
}

// New builds a Manager bound to db, with an empty schema for primaryTable.
func New(db *sql.DB, logger *slog.Logger) *Manager {
	return &Manager{
		db:       db,
		logger:   logger,
		parser:   parser.New(),
		schema:   model.NewSchema(primaryTableName),
		columns:  make(map[string]bool),
		existing: make(map[string]bool),
	}
}

// Schema returns a snapshot of the manager's current schema: a copy whose
// ColumnOrder slice and AuxiliaryTables/Fields maps are independent of the
// manager's live state. EnsureColumn extends the original schema in place
// from other goroutines while callers such as the router and the
// orchestrator's flush workers read the returned snapshot concurrently, so
// the copy is what keeps those reads off the mutex entirely. Callers must
// not mutate the returned value.
func (m *Manager) Schema() *model.Schema {
	m.mu.Lock()
	defer m.mu.Unlock()

	columnOrder := make([]string, len(m.schema.ColumnOrder))
	copy(columnOrder, m.schema.ColumnOrder)

	auxiliaryTables := make(map[string]string, len(m.schema.AuxiliaryTables))
	for sanitized, table := range m.schema.AuxiliaryTables {
		auxiliaryTables[sanitized] = table
	}

	fields := make(map[string]*model.FieldDescriptor, len(m.schema.Fields))
	for name, fd := range m.schema.Fields {
		fields[name] = fd
	}

	return &model.Schema{
		PrimaryTable:    m.schema.PrimaryTable,
		Fields:          fields,
		ColumnOrder:     columnOrder,
		AuxiliaryTables: auxiliaryTables,
	}
}

// validateDDL parses stmt with the TiDB parser and returns an error if it
// does not parse as valid SQL, catching generation bugs before they reach
// the store.
func (m *Manager) validateDDL(stmt string) error {
	nodes, _, err := m.parser.Parse(stmt, "", "")
	if err != nil {
		return fmt.Errorf("schemamgr: generated DDL failed self-validation: %w\nstatement: %s", err, stmt)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("schemamgr: generated DDL parsed to zero statements\nstatement: %s", stmt)
	}
	return nil
}

func (m *Manager) exec(ctx context.Context, stmt string) error {
	if err := m.validateDDL(stmt); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

// Realize builds the relational schema from the resolved field descriptors
// produced by the inferencer: it assigns sanitized names and column order,
// creates the primary table, its indexes, one auxiliary table per
// structured-JSON field, the field_mapping table, and the processed_files
// ledger table, then persists the name mappings, fills the runtime column
// cache from the realized column order, and introspects main_data to verify
// every expected column is present.
func (m *Manager) Realize(ctx context.Context, fields map[string]*model.FieldDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == "cig" {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ti, tj := declaredTypeOrder[fields[names[i]].DeclaredType], declaredTypeOrder[fields[names[j]].DeclaredType]
		if ti != tj {
			return ti < tj
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		fd := fields[name]
		fd.SanitizedName = SanitizeFieldName(name, m.existing)
		m.schema.Fields[name] = fd
		if fd.DeclaredType == model.ColumnTypeJSON {
			m.schema.AuxiliaryTables[fd.SanitizedName] = fd.SanitizedName + "_data"
		} else {
			m.schema.ColumnOrder = append(m.schema.ColumnOrder, fd.SanitizedName)
		}
		m.mappings = append(m.mappings, fieldMapping{Original: name, Sanitized: fd.SanitizedName, FieldType: fd.DeclaredType})
	}

	if err := m.exec(ctx, createFieldMappingTableDDL()); err != nil {
		return fmt.Errorf("schemamgr: create field_mapping table: %w", err)
	}
	if err := m.exec(ctx, createProcessedFilesTableDDL()); err != nil {
		return fmt.Errorf("schemamgr: create processed_files table: %w", err)
	}

	if err := m.exec(ctx, createPrimaryTableDDL(m.schema)); err != nil {
		return fmt.Errorf("schemamgr: create %s: %w", primaryTableName, err)
	}
	for _, idx := range createPrimaryTableIndexDDL() {
		if err := m.exec(ctx, idx); err != nil && !isDuplicateKeyError(err) {
			return fmt.Errorf("schemamgr: create index on %s: %w", primaryTableName, err)
		}
	}

	for sanitized, table := range m.schema.AuxiliaryTables {
		if err := m.exec(ctx, createAuxiliaryTableDDL(sanitized)); err != nil {
			return fmt.Errorf("schemamgr: create auxiliary table %s: %w", table, err)
		}
	}

	if err := m.persistMappings(ctx); err != nil {
		return err
	}
	m.mappings = nil

	for _, sanitized := range m.schema.ColumnOrder {
		m.columns[sanitized] = true
	}

	return m.verifyTableStructure(ctx)
}

// persistMappings upserts every (original, sanitized) pair accumulated so
// far into field_mapping.
func (m *Manager) persistMappings(ctx context.Context) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE %s = VALUES(%s), %s = VALUES(%s)",
		quoteIdentifier(fieldMappingTable), quoteIdentifier("original_name"), quoteIdentifier("sanitized_name"), quoteIdentifier("field_type"),
		quoteIdentifier("sanitized_name"), quoteIdentifier("sanitized_name"), quoteIdentifier("field_type"), quoteIdentifier("field_type"),
	)
	for _, fm := range m.mappings {
		if _, err := m.db.ExecContext(ctx, stmt, fm.Original, fm.Sanitized, string(fm.FieldType)); err != nil {
			return fmt.Errorf("schemamgr: persist field mapping for %q: %w", fm.Original, err)
		}
	}
	return nil
}

// verifyTableStructure re-reads main_data's columns from information_schema
// and confirms every expected sanitized column is present, guarding against
// a DDL statement that executed but silently produced an unexpected shape.
func (m *Manager) verifyTableStructure(ctx context.Context) error {
	present, err := m.introspectColumns(ctx, primaryTableName)
	if err != nil {
		return fmt.Errorf("schemamgr: verify table structure: %w", err)
	}
	for _, sanitized := range m.schema.ColumnOrder {
		if !present[sanitized] {
			return fmt.Errorf("schemamgr: verify table structure: expected column %q missing from %s after creation", sanitized, primaryTableName)
		}
	}
	return nil
}

// introspectColumns queries information_schema.columns for table.
func (m *Manager) introspectColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.column_name
		FROM information_schema.columns c
		WHERE c.table_schema = DATABASE() AND c.table_name = ?
		ORDER BY c.ordinal_position
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols[name.String] = true
		}
	}
	return cols, rows.Err()
}

// EnsureColumn is the runtime-evolution entry point: the Router calls it for
// every field of every record. A field name already in the schema returns
// its existing mapping without touching the store. For a new name it infers
// a declared type from the single witnessed value (no length priors),
// issues an ADD COLUMN, and swallows duplicate-column races from concurrent
// workers.
func (m *Manager) EnsureColumn(ctx context.Context, originalName string, sampleValue any) (sanitizedName string, declaredType model.ColumnType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fd, ok := m.schema.Fields[originalName]; ok {
		return fd.SanitizedName, fd.DeclaredType, nil
	}

	fd := infer.ClassifyAndResolve(originalName, sampleValue)
	fd.SanitizedName = SanitizeFieldName(originalName, m.existing)

	m.schema.Fields[originalName] = fd
	m.mappings = append(m.mappings, fieldMapping{Original: originalName, Sanitized: fd.SanitizedName, FieldType: fd.DeclaredType})

	if fd.DeclaredType == model.ColumnTypeJSON {
		table := fd.SanitizedName + "_data"
		m.schema.AuxiliaryTables[fd.SanitizedName] = table
		if execErr := m.exec(ctx, createAuxiliaryTableDDL(fd.SanitizedName)); execErr != nil {
			return "", "", fmt.Errorf("schemamgr: create auxiliary table %s for new field %q: %w", table, originalName, execErr)
		}
	} else {
		m.schema.ColumnOrder = append(m.schema.ColumnOrder, fd.SanitizedName)
		if !m.columns[fd.SanitizedName] {
			stmt := addColumnDDL(primaryTableName, fd.SanitizedName, fd)
			if execErr := m.exec(ctx, stmt); execErr != nil {
				if isDuplicateColumnError(execErr) {
					m.logger.Debug("column already exists, racing worker won", "column", fd.SanitizedName)
				} else {
					return "", "", ingesterr.SchemaConflict(fmt.Errorf("schemamgr: add column %q: %w", fd.SanitizedName, execErr))
				}
			}
			m.columns[fd.SanitizedName] = true
		}
	}

	if persistErr := m.persistMappings(ctx); persistErr != nil {
		m.logger.Warn("failed to persist new field mapping, continuing", "field", originalName, "error", persistErr)
	}
	m.mappings = nil

	return fd.SanitizedName, fd.DeclaredType, nil
}

// WidenColumn issues the recovery ALTER for a width-exceeded error: the
// named column is widened to unbounded text. Idempotent: re-widening an
// already-TEXT column is harmless.
func (m *Manager) WidenColumn(ctx context.Context, sanitizedName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fd := fieldBySanitizedName(m.schema, sanitizedName); fd != nil {
		fd.DeclaredType = model.ColumnTypeUnboundedText
		fd.BoundedTextSize = 0
	}
	return m.exec(ctx, widenToUnboundedTextDDL(primaryTableName, sanitizedName))
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column")
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key name") || strings.Contains(msg, "already exists")
}
