package schemamgr

import (
	"fmt"
	"strings"

	"anacingest/internal/model"
)

// primaryTableName is the fixed name of the single primary table.
const primaryTableName = "main_data"

// fieldMappingTable persists (original, sanitized) pairs so routers can
// translate field names without re-deriving them.
const fieldMappingTable = "field_mapping"

// processedFilesTable is the ledger table owned conceptually by C8 but
// created alongside the rest of the schema since it shares this package's
// DDL machinery.
const processedFilesTable = "processed_files"

// quoteIdentifier backtick-quotes a MySQL identifier, doubling any embedded
// backtick.
func quoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "`", "``")
	return "`" + name + "`"
}

// quoteString single-quotes a MySQL string literal, escaping the characters
// that matter inside a DDL DEFAULT or COMMENT clause.
func quoteString(value string) string {
	var b strings.Builder
	b.Grow(len(value) + len(value)/10 + 2)
	b.WriteByte('\'')
	for _, r := range value {
		switch r {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		case '\x00':
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// sqlType maps a declared column type to its MySQL column type clause.
func sqlType(f *model.FieldDescriptor) string {
	switch f.DeclaredType {
	case model.ColumnTypeBoundedText:
		size := f.BoundedTextSize
		if size <= 0 {
			size = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", size)
	case model.ColumnTypeUnboundedText:
		return "TEXT"
	case model.ColumnTypeInt32:
		return "INT"
	case model.ColumnTypeDecimal:
		precision := f.DecimalPrecision
		if precision == "" {
			precision = "20,2"
		}
		return fmt.Sprintf("DECIMAL(%s)", precision)
	case model.ColumnTypeDate:
		return "DATE"
	case model.ColumnTypeDatetime:
		return "DATETIME"
	case model.ColumnTypeBoolean:
		return "BOOLEAN"
	case model.ColumnTypeJSON:
		return "JSON"
	default:
		return "TEXT"
	}
}

// columnDefinition renders one "`name` TYPE NULL" clause, following the
// teacher's columnDefinition chain idiom of appending parts in sequence.
func columnDefinition(sanitizedName string, f *model.FieldDescriptor) string {
	var parts []string
	parts = append(parts, quoteIdentifier(sanitizedName), sqlType(f), "NULL")
	return strings.Join(parts, " ")
}

// createPrimaryTableDDL builds the CREATE TABLE statement for main_data:
// cig as the bounded-text primary key, then the non-cig fields in
// declared-type order, then the system columns.
func createPrimaryTableDDL(schema *model.Schema) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(quoteIdentifier(primaryTableName))
	sb.WriteString(" (\n")

	sb.WriteString("  " + quoteIdentifier("cig") + " VARCHAR(64) NOT NULL,\n")

	for _, sanitized := range schema.ColumnOrder {
		fd := fieldBySanitizedName(schema, sanitized)
		if fd == nil || fd.DeclaredType == model.ColumnTypeJSON {
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(columnDefinition(sanitized, fd))
		sb.WriteString(",\n")
	}

	sb.WriteString("  " + quoteIdentifier("created_at") + " DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,\n")
	sb.WriteString("  " + quoteIdentifier("source_file") + " VARCHAR(255) NULL,\n")
	sb.WriteString("  " + quoteIdentifier("batch_id") + " VARCHAR(64) NULL,\n")
	sb.WriteString("  PRIMARY KEY (" + quoteIdentifier("cig") + ")\n")
	sb.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;")

	return sb.String()
}

// createPrimaryTableIndexDDL returns the five required index statements in
// a fixed order: created_at, source_file, batch_id, (cig, source_file),
// (cig, batch_id).
func createPrimaryTableIndexDDL() []string {
	t := quoteIdentifier(primaryTableName)
	return []string{
		fmt.Sprintf("CREATE INDEX %s ON %s (%s);", quoteIdentifier("idx_main_data_created_at"), t, quoteIdentifier("created_at")),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s);", quoteIdentifier("idx_main_data_source_file"), t, quoteIdentifier("source_file")),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s);", quoteIdentifier("idx_main_data_batch_id"), t, quoteIdentifier("batch_id")),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s, %s);", quoteIdentifier("idx_main_data_cig_source_file"), t, quoteIdentifier("cig"), quoteIdentifier("source_file")),
		fmt.Sprintf("CREATE INDEX %s ON %s (%s, %s);", quoteIdentifier("idx_main_data_cig_batch_id"), t, quoteIdentifier("cig"), quoteIdentifier("batch_id")),
	}
}

// createAuxiliaryTableDDL builds the table for a structured-JSON field:
// <sanitized>_data(cig PK, <sanitized>_json, source_file, batch_id, FK cig).
func createAuxiliaryTableDDL(sanitized string) string {
	table := sanitized + "_data"
	jsonCol := sanitized + "_json"

	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(quoteIdentifier(table))
	sb.WriteString(" (\n")
	sb.WriteString("  " + quoteIdentifier("cig") + " VARCHAR(64) NOT NULL,\n")
	sb.WriteString("  " + quoteIdentifier(jsonCol) + " JSON NULL,\n")
	sb.WriteString("  " + quoteIdentifier("source_file") + " VARCHAR(255) NULL,\n")
	sb.WriteString("  " + quoteIdentifier("batch_id") + " VARCHAR(64) NULL,\n")
	sb.WriteString("  PRIMARY KEY (" + quoteIdentifier("cig") + "),\n")
	sb.WriteString(fmt.Sprintf("  CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)\n",
		quoteIdentifier("fk_"+table+"_cig"), quoteIdentifier("cig"), quoteIdentifier(primaryTableName), quoteIdentifier("cig")))
	sb.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;")

	return sb.String()
}

// createFieldMappingTableDDL builds the field_mapping metadata table.
func createFieldMappingTableDDL() string {
	t := quoteIdentifier(fieldMappingTable)
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"  %s VARCHAR(255) NOT NULL,\n"+
			"  %s VARCHAR(64) NOT NULL,\n"+
			"  %s VARCHAR(32) NOT NULL,\n"+
			"  PRIMARY KEY (%s)\n"+
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;",
		t, quoteIdentifier("original_name"), quoteIdentifier("sanitized_name"), quoteIdentifier("field_type"), quoteIdentifier("original_name"))
}

// createProcessedFilesTableDDL builds the ledger table used by the Progress
// & Resume Tracker.
func createProcessedFilesTableDDL() string {
	t := quoteIdentifier(processedFilesTable)
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"  %s INT NOT NULL AUTO_INCREMENT,\n"+
			"  %s VARCHAR(255) NOT NULL,\n"+
			"  %s DATETIME NULL,\n"+
			"  %s BIGINT NOT NULL DEFAULT 0,\n"+
			"  %s ENUM('completed','failed') NOT NULL,\n"+
			"  %s TEXT NULL,\n"+
			"  PRIMARY KEY (%s),\n"+
			"  UNIQUE KEY %s (%s)\n"+
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;",
		t, quoteIdentifier("id"), quoteIdentifier("file_name"), quoteIdentifier("processed_at"),
		quoteIdentifier("record_count"), quoteIdentifier("status"), quoteIdentifier("error_message"),
		quoteIdentifier("id"), quoteIdentifier("uq_processed_files_file_name"), quoteIdentifier("file_name"))
}

// addColumnDDL builds the single ALTER TABLE statement used for runtime
// schema evolution; only ADD COLUMN is ever issued, never a narrowing or
// drop.
func addColumnDDL(table, sanitizedName string, f *model.FieldDescriptor) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s;", quoteIdentifier(table), columnDefinition(sanitizedName, f))
}

// widenToUnboundedTextDDL builds the recovery statement issued when a
// bounded-text column encounters a value exceeding its current width.
func widenToUnboundedTextDDL(table, sanitizedName string) string {
	return fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s TEXT NULL;", quoteIdentifier(table), quoteIdentifier(sanitizedName))
}

func fieldBySanitizedName(schema *model.Schema, sanitized string) *model.FieldDescriptor {
	for _, fd := range schema.Fields {
		if fd.SanitizedName == sanitized {
			return fd
		}
	}
	return nil
}
