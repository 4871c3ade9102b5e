package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddPatternInitializesMapLazily(t *testing.T) {
	f := &FieldDescriptor{}
	f.AddPattern(PatternMonetary)
	assert.True(t, f.Patterns[PatternMonetary])
}

func TestOnlyPatternRequiresExactlyOneTag(t *testing.T) {
	f := &FieldDescriptor{}
	f.AddPattern(PatternPureInteger)
	assert.True(t, f.OnlyPattern(PatternPureInteger))

	f.AddPattern(PatternPureDecimal)
	assert.False(t, f.OnlyPattern(PatternPureInteger))
}

func TestHasAnyPatternMatchesAnyOfTheGivenTags(t *testing.T) {
	f := &FieldDescriptor{}
	f.AddPattern(PatternDateISO)
	assert.True(t, f.HasAnyPattern(PatternDateEuropean, PatternDateISO))
	assert.False(t, f.HasAnyPattern(PatternDateEuropean, PatternDateAmerican))
}

func TestNewSchemaStartsEmpty(t *testing.T) {
	s := NewSchema("main_data")
	assert.Equal(t, "main_data", s.PrimaryTable)
	assert.Empty(t, s.ColumnOrder)
	assert.NotNil(t, s.Fields)
	assert.NotNil(t, s.AuxiliaryTables)
}
