package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_AppliesPending(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS _migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// 0001 は適用済み
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("0001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	for _, m := range migrations[1:] {
		mock.ExpectQuery(`SELECT EXISTS`).WithArgs(m.version).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`INSERT INTO _migrations`).WithArgs(m.version, m.name).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	applied, err := db.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations)-1, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_RollsBackOnFailure(t *testing.T) {
	db, mock := newTestDB(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS _migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("0001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	applied, err := db.Migrate(context.Background())
	assert.Error(t, err)
	assert.Zero(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
