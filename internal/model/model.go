// Package model holds the shared data types passed between the ingestion
// components: decoded records, field descriptors, the evolving schema, and
// file ledger entries.
package model

import "time"

// Record is a decoded JSON object for one logical row, keyed by cig.
type Record struct {
	CIG    string
	Fields map[string]any
}

// ColumnType is the closed sum type of declared relational column types an
// inferred field can resolve to.
type ColumnType string

const (
	ColumnTypeBoundedText   ColumnType = "bounded_text"
	ColumnTypeUnboundedText ColumnType = "unbounded_text"
	ColumnTypeInt32         ColumnType = "int32"
	ColumnTypeDecimal       ColumnType = "decimal"
	ColumnTypeDate          ColumnType = "date"
	ColumnTypeDatetime      ColumnType = "datetime"
	ColumnTypeBoolean       ColumnType = "boolean"
	ColumnTypeJSON          ColumnType = "json"
)

// PatternTag is one of the closed set of value shapes the inferencer
// recognizes while scanning sample values.
type PatternTag string

const (
	PatternNull              PatternTag = "null"
	PatternEmpty             PatternTag = "empty"
	PatternBoolean           PatternTag = "boolean"
	PatternPureInteger       PatternTag = "pure_integer"
	PatternPureDecimal       PatternTag = "pure_decimal"
	PatternMonetary          PatternTag = "monetary"
	PatternPercentage        PatternTag = "percentage"
	PatternDateISO           PatternTag = "date_iso"
	PatternDateEuropean      PatternTag = "date_european"
	PatternDateAmerican      PatternTag = "date_american"
	PatternDatetimeISO       PatternTag = "datetime_iso"
	PatternDatetimeEuropean  PatternTag = "datetime_european"
	PatternTimestamp         PatternTag = "timestamp"
	PatternEmail             PatternTag = "email"
	PatternURL               PatternTag = "url"
	PatternPhone             PatternTag = "phone"
	PatternPostalCode        PatternTag = "postal_code"
	PatternFiscalCode        PatternTag = "fiscal_code"
	PatternPartitaIVA        PatternTag = "partita_iva"
	PatternCUPCode           PatternTag = "cup_code"
	PatternCIGCode           PatternTag = "cig_code"
	PatternAlphanumericMixed PatternTag = "alphanumeric_mixed"
	PatternJSON              PatternTag = "json"
	PatternText              PatternTag = "text"
)

// Reserved system column names a sanitized field name must never collide
// with.
var ReservedColumnNames = map[string]bool{
	"id":          true,
	"cig":         true,
	"created_at":  true,
	"source_file": true,
	"batch_id":    true,
}

// FieldDescriptor captures everything the inferencer learned about one
// original field name during the inference pass.
type FieldDescriptor struct {
	OriginalName     string
	SanitizedName    string
	Patterns         map[PatternTag]bool
	Mixed            bool
	MaxLength        int
	DeclaredType     ColumnType
	BoundedTextSize  int    // meaningful only when DeclaredType == ColumnTypeBoundedText
	DecimalPrecision string // "precision,scale"; meaningful only when DeclaredType == ColumnTypeDecimal, defaults to "20,2"
}

// AddPattern records an observed pattern tag for the field.
func (f *FieldDescriptor) AddPattern(tag PatternTag) {
	if f.Patterns == nil {
		f.Patterns = make(map[PatternTag]bool)
	}
	f.Patterns[tag] = true
}

// OnlyPattern reports whether the field's observed pattern set is exactly
// {tag}.
func (f *FieldDescriptor) OnlyPattern(tag PatternTag) bool {
	return len(f.Patterns) == 1 && f.Patterns[tag]
}

// HasAnyPattern reports whether any of tags was observed for the field.
func (f *FieldDescriptor) HasAnyPattern(tags ...PatternTag) bool {
	for _, t := range tags {
		if f.Patterns[t] {
			return true
		}
	}
	return false
}

// Schema is the set of field descriptors known for the primary table, keyed
// by original field name, plus the auxiliary JSON tables derived from
// structured-JSON fields. It evolves monotonically: columns are only ever
// added.
type Schema struct {
	PrimaryTable    string
	Fields          map[string]*FieldDescriptor // keyed by original name
	ColumnOrder     []string                     // sanitized names, in creation order
	AuxiliaryTables map[string]string            // sanitized field name -> auxiliary table name
}

// NewSchema returns an empty schema for the given primary table name.
func NewSchema(primaryTable string) *Schema {
	return &Schema{
		PrimaryTable:    primaryTable,
		Fields:          make(map[string]*FieldDescriptor),
		AuxiliaryTables: make(map[string]string),
	}
}

// LedgerStatus is the terminal outcome recorded for a processed file.
type LedgerStatus string

const (
	LedgerCompleted LedgerStatus = "completed"
	LedgerFailed    LedgerStatus = "failed"
)

// LedgerEntry is the persisted per-file processing record.
type LedgerEntry struct {
	FileName     string
	ProcessedAt  time.Time
	RecordCount  int64
	Status       LedgerStatus
	ErrorMessage string
}
