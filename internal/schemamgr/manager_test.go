package schemamgr

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anacingest/internal/model"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nopLogger()), mock
}

func TestRealizeCreatesTablesInDeclaredTypeOrder(t *testing.T) {
	mgr, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `field_mapping`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `processed_files`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `main_data`")).WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 5; i++ {
		mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `dettagli_data`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1)).Times(3)
	mock.ExpectQuery("SELECT c.column_name").WillReturnRows(
		sqlmock.NewRows([]string{"column_name"}).AddRow("anno").AddRow("importo"),
	)

	fields := map[string]*model.FieldDescriptor{
		"importo":  {OriginalName: "importo", DeclaredType: model.ColumnTypeDecimal, DecimalPrecision: "20,2"},
		"anno":     {OriginalName: "anno", DeclaredType: model.ColumnTypeInt32},
		"dettagli": {OriginalName: "dettagli", DeclaredType: model.ColumnTypeJSON},
	}

	err := mgr.Realize(context.Background(), fields)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	schema := mgr.Schema()
	require.Equal(t, []string{"anno", "importo"}, schema.ColumnOrder, "int32 sorts before decimal in declaredTypeOrder")
	assert.Equal(t, "dettagli_data", schema.AuxiliaryTables["dettagli"])
}

func TestEnsureColumnReturnsExistingMappingWithoutTouchingDB(t *testing.T) {
	mgr, mock := newMockManager(t)
	mgr.schema.Fields["anno"] = &model.FieldDescriptor{OriginalName: "anno", SanitizedName: "anno", DeclaredType: model.ColumnTypeInt32}

	sanitized, declared, err := mgr.EnsureColumn(context.Background(), "anno", float64(2024))
	require.NoError(t, err)
	assert.Equal(t, "anno", sanitized)
	assert.Equal(t, model.ColumnTypeInt32, declared)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureColumnAddsNewColumn(t *testing.T) {
	mgr, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` ADD COLUMN")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))

	sanitized, declared, err := mgr.EnsureColumn(context.Background(), "stato_lavorazione", "aggiudicato")
	require.NoError(t, err)
	assert.NotEmpty(t, sanitized)
	assert.Equal(t, model.ColumnTypeBoundedText, declared)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureColumnSwallowsDuplicateColumnRace(t *testing.T) {
	mgr, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` ADD COLUMN")).
		WillReturnError(&mockMySQLError{msg: "Error 1060: Duplicate column name 'anno'"})
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))

	_, _, err := mgr.EnsureColumn(context.Background(), "anno", float64(2024))
	require.NoError(t, err, "a duplicate-column race from a concurrent worker must be swallowed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureColumnEscalatesOtherAlterErrors(t *testing.T) {
	mgr, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` ADD COLUMN")).
		WillReturnError(&mockMySQLError{msg: "Error 1044: access denied"})

	_, _, err := mgr.EnsureColumn(context.Background(), "anno", float64(2024))
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureColumnCreatesAuxiliaryTableForJSONField(t *testing.T) {
	mgr, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `dettagli_data`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))

	sanitized, declared, err := mgr.EnsureColumn(context.Background(), "dettagli", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, model.ColumnTypeJSON, declared)
	assert.Equal(t, "dettagli_data", mgr.Schema().AuxiliaryTables[sanitized])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWidenColumnIssuesModifyColumn(t *testing.T) {
	mgr, mock := newMockManager(t)
	mgr.schema.Fields["descr"] = &model.FieldDescriptor{SanitizedName: "descr", DeclaredType: model.ColumnTypeBoundedText, BoundedTextSize: 100}

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` MODIFY COLUMN `descr` TEXT NULL")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := mgr.WidenColumn(context.Background(), "descr")
	require.NoError(t, err)
	assert.Equal(t, model.ColumnTypeUnboundedText, mgr.schema.Fields["descr"].DeclaredType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateDDLRejectsGarbage(t *testing.T) {
	mgr, _ := newMockManager(t)
	err := mgr.validateDDL("THIS IS NOT SQL !!!")
	assert.Error(t, err)
}

// TestSchemaSnapshotIsIndependentOfLaterMutation guards against a caller's
// snapshot being silently extended by a later EnsureColumn call on the same
// Manager: ColumnOrder and AuxiliaryTables must be copied out, not aliased.
func TestSchemaSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	mgr, mock := newMockManager(t)
	mgr.schema.Fields["anno"] = &model.FieldDescriptor{OriginalName: "anno", SanitizedName: "anno", DeclaredType: model.ColumnTypeInt32}
	mgr.schema.ColumnOrder = []string{"anno"}

	before := mgr.Schema()
	require.Equal(t, []string{"anno"}, before.ColumnOrder)

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` ADD COLUMN")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))
	_, _, err := mgr.EnsureColumn(context.Background(), "stato_lavorazione", "aggiudicato")
	require.NoError(t, err)

	assert.Equal(t, []string{"anno"}, before.ColumnOrder, "a snapshot taken earlier must not observe a later EnsureColumn's append")
	assert.Len(t, mgr.Schema().ColumnOrder, 2, "a fresh snapshot does observe the new column")
}

// TestRealizeClearsMappingsAfterPersisting guards against Realize leaving
// m.mappings populated, which would make the first subsequent EnsureColumn
// call re-persist the whole corpus's mappings instead of just its own.
func TestRealizeClearsMappingsAfterPersisting(t *testing.T) {
	mgr, mock := newMockManager(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `field_mapping`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `processed_files`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS `main_data`")).WillReturnResult(sqlmock.NewResult(0, 0))
	for i := 0; i < 5; i++ {
		mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT c.column_name").WillReturnRows(
		sqlmock.NewRows([]string{"column_name"}).AddRow("anno"),
	)

	require.NoError(t, mgr.Realize(context.Background(), map[string]*model.FieldDescriptor{
		"anno": {OriginalName: "anno", DeclaredType: model.ColumnTypeInt32},
	}))
	assert.Empty(t, mgr.mappings, "Realize must clear mappings after persisting, like EnsureColumn does")

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE `main_data` ADD COLUMN")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO `field_mapping`").WillReturnResult(sqlmock.NewResult(1, 1))
	_, _, err := mgr.EnsureColumn(context.Background(), "stato", "aggiudicato")
	require.NoError(t, err, "a single-row INSERT expectation must not be exceeded by a leftover mappings backlog")
	require.NoError(t, mock.ExpectationsWereMet())
}

// mockMySQLError mimics the shape of a go-sql-driver/mysql error message
// closely enough for the string-matching recovery classifiers to key off of.
type mockMySQLError struct{ msg string }

func (e *mockMySQLError) Error() string { return e.msg }
