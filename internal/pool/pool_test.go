package pool

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anacingest/internal/ingesterr"
)

func newMockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Pool{db: db}, mock
}

func TestIsTransientRecognizesKnownMarkers(t *testing.T) {
	for _, msg := range []string{"connection refused", "broken pipe", "server has gone away", "EOF", "i/o timeout", "reset by peer"} {
		assert.True(t, isTransient(errors.New(msg)), msg)
	}
	assert.False(t, isTransient(errors.New("access denied for user")))
}

func TestClassifyConnErrWrapsTransientAsConnectionLost(t *testing.T) {
	err := classifyConnErr(errors.New("server has gone away"))
	assert.ErrorIs(t, err, ingesterr.ErrConnectionLost)
}

func TestClassifyConnErrLeavesOtherErrorsPermanent(t *testing.T) {
	cause := errors.New("Access denied for user 'root'@'%'")
	err := classifyConnErr(cause)
	assert.ErrorIs(t, err, cause, "a non-transient failure is wrapped as backoff.Permanent but still unwraps to its cause")
}

func TestClassifyConnErrNilIsNil(t *testing.T) {
	assert.NoError(t, classifyConnErr(nil))
}

func TestAcquireScopedCommitsOnSuccess(t *testing.T) {
	p, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := p.AcquireScoped(context.Background(), func(tx *sql.Tx) error {
		_, execErr := tx.Exec("UPDATE main_data SET stato = ?", "aggiudicato")
		return execErr
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireScopedRollsBackOnError(t *testing.T) {
	p, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	err := p.AcquireScoped(context.Background(), func(tx *sql.Tx) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireScopedReturnsCombinedErrorWhenRollbackAlsoFails(t *testing.T) {
	p, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectRollback().WillReturnError(errors.New("rollback failed"))

	err := p.AcquireScoped(context.Background(), func(tx *sql.Tx) error {
		return errors.New("operation failed")
	})
	assert.ErrorContains(t, err, "operation failed")
	assert.ErrorContains(t, err, "rollback also failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBReturnsUnderlyingConnection(t *testing.T) {
	p, _ := newMockPool(t)
	assert.NotNil(t, p.DB())
}

func TestCloseIsSafeOnZeroValuePool(t *testing.T) {
	p := &Pool{}
	assert.NoError(t, p.Close())
}
