package infer

import (
	"strings"

	"anacingest/internal/model"
)

// alwaysDatetimeFields is priority rule 1: these field names are always
// datetime regardless of observed value shape.
var alwaysDatetimeFields = map[string]bool{
	"data_creazione": true, "data_pubblicazione": true, "data_scadenza": true,
	"data_aggiornamento": true, "data_inizio": true, "data_fine": true,
	"data_inserimento": true, "data_modifica": true,
	"created_at": true, "updated_at": true, "published_at": true, "expired_at": true,
}

// alwaysTextKeywords is priority rule 2: any field name containing one of
// these substrings is always unbounded text.
var alwaysTextKeywords = []string{
	"denominazione", "descrizione", "amministrazione", "ragione_sociale",
	"oggetto", "dettaglio", "motivazione", "specifiche", "note",
}

// identifierWidths is priority rule 3: known identifier field names get a
// fixed bounded-text width instead of one derived from observed length.
var identifierWidths = map[string]int{
	"cig": 13, "cup": 15, "codice_fiscale": 16, "partita_iva": 11,
	"numero_verde": 20, "numero_telefono": 20,
}

// identifierBlacklist is the full set of priority rule 3 field names; those
// absent from identifierWidths fall back to a length-derived width.
var identifierBlacklist = map[string]bool{
	"numero_gara": true, "codice_gara": true, "id_gara": true, "numero": true,
	"codice": true, "id": true, "identificativo": true, "riferimento": true,
	"numero_lotto": true, "cig": true, "cup": true, "codice_fiscale": true,
	"partita_iva": true, "numero_verde": true, "numero_telefono": true,
}

// resolveDeclaredType applies the priority-ordered rules to decide a
// field's declared type from its accumulated observations. fieldName must
// already be lowercased.
func resolveDeclaredType(fieldName string, f *model.FieldDescriptor) {
	// Rule 1: whitelisted date field names.
	if alwaysDatetimeFields[fieldName] {
		f.DeclaredType = model.ColumnTypeDatetime
		return
	}

	// Rule 2: long free-text field names.
	for _, kw := range alwaysTextKeywords {
		if strings.Contains(fieldName, kw) {
			f.DeclaredType = model.ColumnTypeUnboundedText
			return
		}
	}

	// Rule 3: identifier blacklist.
	if identifierBlacklist[fieldName] {
		if w, ok := identifierWidths[fieldName]; ok {
			f.DeclaredType = model.ColumnTypeBoundedText
			f.BoundedTextSize = w
			return
		}
		applyCompactLengthLadder(f)
		return
	}

	// Rule 4: mixed alphanumeric values.
	if f.Mixed || f.Patterns[model.PatternAlphanumericMixed] {
		applyCompactLengthLadder(f)
		return
	}

	// Rule 5: monomorphic pattern categories.
	if resolveMonomorphic(f) {
		return
	}

	// Rule 6: fallback, sized from observed maximum length.
	applyLengthLadder(f)
}

// resolveMonomorphic applies rule 5 and reports whether it matched.
func resolveMonomorphic(f *model.FieldDescriptor) bool {
	switch {
	case len(f.Patterns) == 0, f.OnlyPattern(model.PatternNull), f.OnlyPattern(model.PatternEmpty):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 50
	case f.OnlyPattern(model.PatternBoolean):
		f.DeclaredType = model.ColumnTypeBoolean
	case f.OnlyPattern(model.PatternPureInteger):
		f.DeclaredType = model.ColumnTypeInt32
	case f.OnlyPattern(model.PatternPureDecimal), f.OnlyPattern(model.PatternMonetary):
		f.DeclaredType = model.ColumnTypeDecimal
		f.DecimalPrecision = "20,2"
	case f.OnlyPattern(model.PatternPercentage):
		f.DeclaredType = model.ColumnTypeDecimal
		f.DecimalPrecision = "5,2"
	case f.HasAnyPattern(model.PatternDateISO, model.PatternDateEuropean, model.PatternDateAmerican) && onlyDatePatterns(f):
		f.DeclaredType = model.ColumnTypeDate
	case f.HasAnyPattern(model.PatternDatetimeISO, model.PatternDatetimeEuropean, model.PatternTimestamp) && onlyDatetimePatterns(f):
		f.DeclaredType = model.ColumnTypeDatetime
	case f.OnlyPattern(model.PatternJSON):
		f.DeclaredType = model.ColumnTypeJSON
	case f.OnlyPattern(model.PatternEmail):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 100
	case f.OnlyPattern(model.PatternURL):
		f.DeclaredType = model.ColumnTypeUnboundedText
	case f.OnlyPattern(model.PatternPhone):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 20
	case f.OnlyPattern(model.PatternPostalCode):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 5
	case f.OnlyPattern(model.PatternFiscalCode):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 16
	case f.OnlyPattern(model.PatternPartitaIVA):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 11
	case f.OnlyPattern(model.PatternCUPCode):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 15
	case f.OnlyPattern(model.PatternCIGCode):
		f.DeclaredType = model.ColumnTypeBoundedText
		f.BoundedTextSize = 13
	default:
		return false
	}
	return true
}

func onlyDatePatterns(f *model.FieldDescriptor) bool {
	for tag := range f.Patterns {
		switch tag {
		case model.PatternDateISO, model.PatternDateEuropean, model.PatternDateAmerican:
		default:
			return false
		}
	}
	return true
}

func onlyDatetimePatterns(f *model.FieldDescriptor) bool {
	for tag := range f.Patterns {
		switch tag {
		case model.PatternDatetimeISO, model.PatternDatetimeEuropean, model.PatternTimestamp:
		default:
			return false
		}
	}
	return true
}

// applyLengthLadder is rule 6's text-size ladder:
// ≤50→50, ≤100→150, ≤200→250, ≤500→500, ≤1000→text(500), else→unbounded.
func applyLengthLadder(f *model.FieldDescriptor) {
	switch {
	case f.MaxLength <= 50:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 50
	case f.MaxLength <= 100:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 150
	case f.MaxLength <= 200:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 250
	case f.MaxLength <= 500:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 500
	case f.MaxLength <= 1000:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 500
	default:
		f.DeclaredType = model.ColumnTypeUnboundedText
	}
}

// applyCompactLengthLadder sizes an identifier-blacklist field that has no
// fixed known width: >1000 -> unbounded text, >500 -> 500, >100 -> 150,
// else -> 100.
func applyCompactLengthLadder(f *model.FieldDescriptor) {
	switch {
	case f.MaxLength > 1000:
		f.DeclaredType = model.ColumnTypeUnboundedText
	case f.MaxLength > 500:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 500
	case f.MaxLength > 100:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 150
	default:
		f.DeclaredType, f.BoundedTextSize = model.ColumnTypeBoundedText, 100
	}
}
