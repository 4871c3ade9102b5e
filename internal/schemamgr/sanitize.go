package schemamgr

import (
	"strconv"
	"strings"
	"unicode"

	"anacingest/internal/model"
)

const maxIdentifierLength = 64

// sanitizeName replaces non-word characters with underscores, collapses
// runs of underscores, trims leading/trailing underscores, and prefixes a
// leading digit with "field_". If the result still exceeds 64 characters it
// is not truncated here; callers needing a short alias use shortAlias.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	collapsed := collapseUnderscores(b.String())
	trimmed := strings.Trim(collapsed, "_")
	if trimmed == "" {
		trimmed = "field"
	}
	if unicode.IsDigit(rune(trimmed[0])) {
		trimmed = "field_" + trimmed
	}
	return trimmed
}

func collapseUnderscores(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := false
	for _, r := range s {
		if r == '_' {
			if prevUnderscore {
				continue
			}
			prevUnderscore = true
		} else {
			prevUnderscore = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// shortAlias builds a short alias for a sanitized name that exceeds 64
// characters: initials of underscore-separated tokens, or the first 8
// characters if there are no splits, with a monotonically increasing
// counter appended to break collisions within existing.
func shortAlias(sanitized string, existing map[string]bool) string {
	words := strings.Split(sanitized, "_")
	var base string
	if len(words) > 1 {
		var b strings.Builder
		for _, w := range words {
			if w != "" {
				b.WriteByte(w[0])
			}
		}
		base = b.String()
	} else if len(sanitized) >= 8 {
		base = sanitized[:8]
	} else {
		base = sanitized
	}

	alias := base
	counter := 1
	for existing[alias] {
		alias = base + strconv.Itoa(counter)
		counter++
	}
	return alias
}

// SanitizeFieldName derives the relational column name for a field,
// enforcing the ≤64-character invariant and collision-freedom within the
// current schema. existing tracks every sanitized name already assigned in
// this run so aliasing can detect and break collisions.
func SanitizeFieldName(original string, existing map[string]bool) string {
	sanitized := sanitizeName(original)

	if len(sanitized) > maxIdentifierLength || existing[sanitized] || model.ReservedColumnNames[sanitized] {
		alias := shortAlias(sanitized, existing)
		for model.ReservedColumnNames[alias] {
			alias = shortAlias(alias+"_", existing)
		}
		existing[alias] = true
		return alias
	}

	existing[sanitized] = true
	return sanitized
}
