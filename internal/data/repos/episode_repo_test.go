package repos

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ataxco/contentforge/internal/domain"
)

func TestEpisodeRepo_GetByID_MissingRowIsNilNotError(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewEpisodeRepo(conn)

	mock.ExpectQuery(`SELECT \* FROM "episodes"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ep, err := repo.GetByID(bg(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, ep)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEpisodeRepo_CompareAndSwapStatus_Swaps(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewEpisodeRepo(conn)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "episodes" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.CompareAndSwapStatus(bg(), uuid.New(), domain.EpisodeIdea, domain.EpisodePlanning)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEpisodeRepo_CompareAndSwapStatus_StatusMoved(t *testing.T) {
	conn, mock := newMockDB(t)
	repo := NewEpisodeRepo(conn)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "episodes" SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.CompareAndSwapStatus(bg(), uuid.New(), domain.EpisodeIdea, domain.EpisodePlanning)
	require.NoError(t, err)
	require.False(t, ok, "a concurrent status change must surface as a failed swap, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}
