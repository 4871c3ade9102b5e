package infer

import (
	"regexp"
	"strings"

	"anacingest/internal/model"
)

// patternRules is the closed, priority-ordered set of value-shape regexes.
// Order matters: the first match wins, exactly like the source's patterns
// dict iteration order in import_json_mysql.py.
// All rules are matched case-insensitively, mirroring the source's re.match
// with re.IGNORECASE applied uniformly across the whole patterns dict.
var patternRules = []struct {
	tag model.PatternTag
	re  *regexp.Regexp
}{
	{model.PatternMonetary, regexp.MustCompile(`(?i)^([€$]\s*\d+([.,]\d{2})?|\d+[.,]\d{2})$`)},
	{model.PatternPercentage, regexp.MustCompile(`(?i)^\d+([.,]\d+)?%$`)},
	{model.PatternDateISO, regexp.MustCompile(`(?i)^\d{4}-\d{2}-\d{2}$`)},
	// European and American slash-dates share the same digit shape and
	// can't be told apart by regex alone; European is listed first, so a
	// slash-date always classifies as European, matching the source's own
	// dict order. American is a reachable tag in principle but never wins
	// this particular race.
	{model.PatternDateEuropean, regexp.MustCompile(`(?i)^\d{2}/\d{2}/\d{4}$`)},
	{model.PatternDateAmerican, regexp.MustCompile(`(?i)^\d{2}/\d{2}/\d{4}$`)},
	{model.PatternDatetimeISO, regexp.MustCompile(`(?i)^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)},
	{model.PatternDatetimeEuropean, regexp.MustCompile(`(?i)^\d{2}/\d{2}/\d{4}\s+\d{2}:\d{2}:\d{2}`)},
	{model.PatternTimestamp, regexp.MustCompile(`(?i)^\d{10,13}$`)},
	{model.PatternBoolean, regexp.MustCompile(`(?i)^(true|false|yes|no|si|1|0)$`)},
	{model.PatternPureInteger, regexp.MustCompile(`(?i)^\d+$`)},
	{model.PatternPureDecimal, regexp.MustCompile(`(?i)^\d+[.,]\d+$`)},
	{model.PatternAlphanumericMixed, regexp.MustCompile(`(?i)^[A-Z0-9]+$`)},
	{model.PatternEmail, regexp.MustCompile(`(?i)^[^@]+@[^@]+\.[^@]+$`)},
	{model.PatternURL, regexp.MustCompile(`(?i)^https?://`)},
	{model.PatternPhone, regexp.MustCompile(`(?i)^\+?\d{8,15}$`)},
	{model.PatternPostalCode, regexp.MustCompile(`(?i)^\d{5}$`)},
	{model.PatternFiscalCode, regexp.MustCompile(`(?i)^[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]\d{2}$`)},
	{model.PatternPartitaIVA, regexp.MustCompile(`(?i)^\d{11}$`)},
	{model.PatternCUPCode, regexp.MustCompile(`(?i)^[A-Z]\d{2}[A-Z]\d{2}[A-Z]\d{2}[A-Z]\d{2}[A-Z]\d{2}[A-Z]\d{2}$`)},
	{model.PatternCIGCode, regexp.MustCompile(`(?i)^[A-Z]\d{8}[A-Z]\d{2}$`)},
}

// classify returns the pattern tag for value and whether the value itself
// contains both letters and digits (the "mixed" flag, set independently of
// which pattern matched).
func classify(value any) (model.PatternTag, bool) {
	switch v := value.(type) {
	case nil:
		return model.PatternNull, false
	case bool:
		return model.PatternBoolean, false
	case float64:
		if v == float64(int64(v)) {
			return model.PatternPureInteger, false
		}
		return model.PatternPureDecimal, false
	case int, int64:
		return model.PatternPureInteger, false
	case []any, map[string]any:
		return model.PatternJSON, false
	}

	s := strings.TrimSpace(toString(value))
	if s == "" {
		return model.PatternEmpty, false
	}

	hasLetters, hasDigits := false, false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
			hasLetters = true
		case r >= '0' && r <= '9':
			hasDigits = true
		}
	}
	mixed := hasLetters && hasDigits

	for _, rule := range patternRules {
		if rule.re.MatchString(s) {
			return rule.tag, mixed
		}
	}
	return model.PatternText, mixed
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
