package repos

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/platform/dbctx"
	"github.com/ataxco/contentforge/internal/platform/logger"
)

// newMockDB opens a gorm connection over sqlmock so repo-generated SQL can
// be asserted without a live Postgres. The locking/transaction behavior
// sqlmock cannot observe has no test here; testutil only holds helpers.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return conn, mock
}

func mockLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func bg() dbctx.Context { return dbctx.New(context.Background()) }

func TestJobRepo_GetByID_MissingRowIsNilNotError(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewJobRepo(conn, mockLogger(t))

	mock.ExpectQuery(`SELECT \* FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	job, err := repo.GetByID(bg(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepo_ActiveCountForEpisode(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewJobRepo(conn, mockLogger(t))

	mock.ExpectQuery(`SELECT count\(\*\) FROM "jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.ActiveCountForEpisode(bg(), uuid.New())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepo_UpdateFieldsUnlessStatus_NoRowMeansAlreadyTerminal(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewJobRepo(conn, mockLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.UpdateFieldsUnlessStatus(bg(), uuid.New(),
		[]domain.JobStatus{domain.JobCancelled},
		map[string]any{"status": domain.JobFailed})
	require.NoError(t, err)
	require.False(t, ok, "zero rows affected must report that the guard held")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepo_UpdateFieldsUnlessStatus_RowUpdated(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewJobRepo(conn, mockLogger(t))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "jobs" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.UpdateFieldsUnlessStatus(bg(), uuid.New(), nil,
		map[string]any{"status": domain.JobCompleted})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
