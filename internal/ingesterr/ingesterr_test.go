package ingesterr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWidthExceededIsSentinel(t *testing.T) {
	cause := errors.New("data too long for column 'foo' at row 1")
	err := WidthExceeded("foo", cause)

	assert.True(t, errors.Is(err, ErrWidthExceeded))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "foo")
}

func TestBatchTooLargeIsSentinel(t *testing.T) {
	err := BatchTooLarge("retry at reduced batch size 5000", errors.New("packet too large"))
	assert.True(t, errors.Is(err, ErrBatchTooLarge))
	assert.Contains(t, err.Error(), "retry at reduced batch size 5000")
}

func TestConnectionLostIsSentinel(t *testing.T) {
	err := ConnectionLost(errors.New("broken pipe"))
	assert.True(t, errors.Is(err, ErrConnectionLost))
}

func TestMalformedRecordIsSentinel(t *testing.T) {
	err := MalformedRecord("record has no cig field", nil)
	assert.True(t, errors.Is(err, ErrMalformedRecord))
	assert.Contains(t, err.Error(), "record has no cig field")
}

func TestSchemaConflictIsSentinel(t *testing.T) {
	err := SchemaConflict(errors.New("alter table failed"))
	assert.True(t, errors.Is(err, ErrSchemaConflict))
}

func TestBatchSizeFloorIsSentinel(t *testing.T) {
	err := BatchSizeFloor("batch size floor 10000 reached", errors.New("packet too large"))
	assert.True(t, errors.Is(err, ErrBatchSizeFloor))
}

func TestErrorUnwrapPrefersCause(t *testing.T) {
	cause := errors.New("underlying driver error")
	err := ConnectionLost(cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorUnwrapFallsBackToSentinelWithoutCause(t *testing.T) {
	err := &Error{Sentinel: ErrBatchSizeFloor, Detail: "at floor"}
	assert.Equal(t, ErrBatchSizeFloor, errors.Unwrap(err))
}
