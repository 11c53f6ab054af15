package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/testutil"
)

func newMockStore(t *testing.T) (*SQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return &SQLite{db: db}, mock
}

func TestMock_ConnectionLossIsUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM users WHERE api_key_hash = \?`).
		WithArgs("digest").
		WillReturnError(sql.ErrConnDone)

	_, err := store.GetUserByAPIKeyHash(context.Background(), "digest")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, errors.Is(err, ErrUserNotFound))
}

func TestMock_CreateUserUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"))

	err := store.CreateUser(context.Background(), testutil.NewTestUser(t, "x@example.com"))
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestMock_PermanentErrorIsNotUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM expenses WHERE id = \? AND owner_id = \?`).
		WithArgs("exp-1", "owner-1").
		WillReturnError(errors.New("no such table: expenses"))

	err := store.DeleteExpense(context.Background(), "owner-1", "exp-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestMock_DeleteExpenseScopedByOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM expenses WHERE id = \? AND owner_id = \?`).
		WithArgs("exp-1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteExpense(context.Background(), "intruder", "exp-1")
	assert.ErrorIs(t, err, ErrExpenseNotFound)
}

func TestMock_UpdateAPIKeyCompareAndSwap(t *testing.T) {
	store, mock := newMockStore(t)

	key := model.APIKeyCredential{Hash: "new", Prefix: "12345678"}
	mock.ExpectExec(`UPDATE users`).
		WithArgs("new", "12345678", sqlmock.AnyArg(), sqlmock.AnyArg(), "user-1", "old", "old").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateAPIKey(context.Background(), "user-1", "old", key)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMock_SummaryScopedByOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT category, COALESCE\(SUM\(amount\), 0\) AS total, COUNT\(\*\) FROM expenses WHERE owner_id = \? AND category IN \(\?, \?\)`).
		WithArgs("owner-1", "food", "transit").
		WillReturnRows(sqlmock.NewRows([]string{"category", "total", "count"}).
			AddRow("food", int64(1500), int64(2)).
			AddRow("transit", int64(300), int64(1)))

	totals, err := store.SummarizeExpenses(context.Background(), "owner-1", ExpenseFilter{Categories: []string{"food", "transit"}})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, model.Amount(1500), totals[0].Total)
}

func TestMock_CreateExpenseForDeletedOwner(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO expenses`).
		WillReturnError(errors.New("constraint failed: FOREIGN KEY constraint failed (787)"))

	err := store.CreateExpense(context.Background(), testutil.NewTestExpense(t, "gone", "food", 100, "2024-01-01"))
	assert.ErrorIs(t, err, ErrUserNotFound)
}
