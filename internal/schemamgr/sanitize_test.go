package schemamgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFieldNameReplacesNonWordCharacters(t *testing.T) {
	existing := map[string]bool{}
	got := SanitizeFieldName("Importo Totale (€)", existing)
	assert.Equal(t, "importo_totale", strings.ToLower(got))
	assert.Regexp(t, `^[A-Za-z_][A-Za-z0-9_]*$`, got)
}

func TestSanitizeFieldNamePrefixesLeadingDigit(t *testing.T) {
	existing := map[string]bool{}
	got := SanitizeFieldName("2024_anno", existing)
	assert.True(t, strings.HasPrefix(got, "field_"))
}

func TestSanitizeFieldNameAvoidsReservedNames(t *testing.T) {
	existing := map[string]bool{}
	got := SanitizeFieldName("cig", existing)
	assert.NotEqual(t, "cig", got)
}

func TestSanitizeFieldNameAvoidsCollisions(t *testing.T) {
	existing := map[string]bool{}
	first := SanitizeFieldName("importo totale", existing)
	second := SanitizeFieldName("importo_totale", existing)
	assert.NotEqual(t, first, second)
}

func TestSanitizeFieldNameEmptyInputFallsBackToField(t *testing.T) {
	existing := map[string]bool{}
	got := SanitizeFieldName("€€€", existing)
	assert.NotEmpty(t, got)
	assert.Regexp(t, `^[A-Za-z_][A-Za-z0-9_]*$`, got)
}

func TestSanitizeFieldNameEnforcesMaxLength(t *testing.T) {
	existing := map[string]bool{}
	longName := strings.Repeat("a_very_long_field_name_", 5)
	got := SanitizeFieldName(longName, existing)
	assert.LessOrEqual(t, len(got), maxIdentifierLength)
}

func TestSanitizeFieldNameMarksNameAsExisting(t *testing.T) {
	existing := map[string]bool{}
	got := SanitizeFieldName("stato", existing)
	assert.True(t, existing[got])
}
