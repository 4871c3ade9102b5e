package router

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anacingest/internal/ingesterr"
	"anacingest/internal/schemamgr"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouterWithMockManager(t *testing.T) (*Router, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mgr := schemamgr.New(db, nopLogger())
	return New(mgr, nopLogger()), mock
}

func TestTranslateRejectsRecordWithoutCIG(t *testing.T) {
	r, _ := newRouterWithMockManager(t)
	_, err := r.Translate(context.Background(), map[string]any{"stato": "aggiudicato"})
	assert.ErrorIs(t, err, ingesterr.ErrMalformedRecord)
}

func TestTranslateRejectsEmptyCIG(t *testing.T) {
	r, _ := newRouterWithMockManager(t)
	_, err := r.Translate(context.Background(), map[string]any{"cig": "  "})
	assert.ErrorIs(t, err, ingesterr.ErrMalformedRecord)
}

func TestTranslateBuildsRowAlignedToColumnOrder(t *testing.T) {
	r, mock := newRouterWithMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` ADD COLUMN")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))

	row, err := r.Translate(context.Background(), map[string]any{
		"cig":   "Z1234567890",
		"Anno ": float64(2024),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "Z1234567890", row.CIG)
	require.Len(t, row.ColumnOrder, 1)
	assert.Equal(t, "anno", row.ColumnOrder[0])
	assert.Equal(t, float64(2024), row.PrimaryValues[0])
}

func TestTranslateRoutesJSONFieldsToAuxiliaryBuffer(t *testing.T) {
	r, mock := newRouterWithMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `dettagli_data`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))

	row, err := r.Translate(context.Background(), map[string]any{
		"cig":      "Z1234567890",
		"dettagli": map[string]any{"lotto": "1"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, row.PrimaryValues)
	assert.Contains(t, row.AuxiliaryJSON, "dettagli")
	assert.JSONEq(t, `{"lotto":"1"}`, row.AuxiliaryJSON["dettagli"])
}

func TestTranslateSkipsNilFields(t *testing.T) {
	r, _ := newRouterWithMockManager(t)
	row, err := r.Translate(context.Background(), map[string]any{
		"cig":   "Z1234567890",
		"nullo": nil,
	})
	require.NoError(t, err)
	assert.Empty(t, row.ColumnOrder)
}

func TestScanFileStreamsNonBlankLinesAndSkipsMalformedOnes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")
	content := "{\"cig\":\"A\"}\n\n{not json}\n{\"cig\":\"B\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := New(nil, nopLogger())

	var seen []string
	err := r.ScanFile(path, func(fields map[string]any) error {
		seen = append(seen, fields["cig"].(string))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, seen)
}

func TestScanFileReturnsErrorFromYield(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"cig\":\"A\"}\n"), 0o644))

	r := New(nil, nopLogger())
	wantErr := assert.AnError
	err := r.ScanFile(path, func(fields map[string]any) error { return wantErr })
	assert.ErrorIs(t, err, wantErr)
}
