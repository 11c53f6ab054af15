package tenant

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
	"github.com/tallyhq/tally/internal/testutil"
)

type env struct {
	store *repository.SQLite
	gate  *auth.Gate
	t     *testing.T
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := repository.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &env{store: store, gate: auth.NewGate(store, logger), t: t}
}

// identity creates a user and authenticates it through the gate.
func (e *env) identity(email string) auth.Identity {
	e.t.Helper()
	key, err := auth.GenerateAPIKey(auth.EnvTest)
	require.NoError(e.t, err)

	user := testutil.NewTestUser(e.t, email)
	user.APIKeyHash = key.Hash
	user.APIKeyPrefix = key.Prefix
	require.NoError(e.t, e.store.CreateUser(context.Background(), user))

	id, err := e.gate.Authenticate(context.Background(), key.Plaintext)
	require.NoError(e.t, err)
	return id
}

func newExpense(t *testing.T, amount model.Amount, category, date string) model.NewExpense {
	t.Helper()
	d, err := model.ParseDate(date)
	require.NoError(t, err)
	return model.NewExpense{Amount: amount, Category: category, Date: d}
}

func collect(t *testing.T, seq func(func(*model.Expense, error) bool)) []*model.Expense {
	t.Helper()
	var out []*model.Expense
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestStore_ZeroIdentityRejected(t *testing.T) {
	e := newEnv(t)
	s := New(e.store)
	ctx := context.Background()

	_, err := s.Add(ctx, auth.Identity{}, newExpense(t, 100, "food", "2024-01-01"))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, _, err = s.Page(ctx, auth.Identity{}, repository.ExpenseFilter{}, "", 10)
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = s.Summarize(ctx, auth.Identity{}, repository.ExpenseFilter{})
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	assert.ErrorIs(t, s.Delete(ctx, auth.Identity{}, "x"), auth.ErrUnauthenticated)

	for _, err := range s.List(ctx, auth.Identity{}, repository.ExpenseFilter{}) {
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	}
}

func TestStore_AddStampsOwnerAndNormalizes(t *testing.T) {
	e := newEnv(t)
	s := New(e.store)
	ctx := context.Background()
	alice := e.identity("alice@example.com")

	in := newExpense(t, 1250, "  food  ", "2024-01-15")
	in.Note = " lunch "
	got, err := s.Add(ctx, alice, in)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, alice.UserID(), got.OwnerID)
	assert.Equal(t, "food", got.Category)
	assert.Equal(t, "lunch", got.Note)

	_, err = s.Add(ctx, alice, newExpense(t, -1, "food", "2024-01-15"))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = s.Add(ctx, alice, model.NewExpense{Amount: 1, Category: "food"})
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestStore_Isolation(t *testing.T) {
	e := newEnv(t)
	s := New(e.store)
	ctx := context.Background()
	alice := e.identity("alice@example.com")
	bob := e.identity("bob@example.com")

	aliceExpense, err := s.Add(ctx, alice, newExpense(t, 1000, "food", "2024-01-01"))
	require.NoError(t, err)
	_, err = s.Add(ctx, bob, newExpense(t, 200, "food", "2024-01-01"))
	require.NoError(t, err)

	bobs := collect(t, s.List(ctx, bob, repository.ExpenseFilter{}))
	require.Len(t, bobs, 1)
	assert.Equal(t, bob.UserID(), bobs[0].OwnerID)

	summary, err := s.Summarize(ctx, bob, repository.ExpenseFilter{})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.Amount{"food": 200}, summary.ByCategory())

	err = s.Delete(ctx, bob, aliceExpense.ID)
	assert.ErrorIs(t, err, repository.ErrExpenseNotFound)

	alices := collect(t, s.List(ctx, alice, repository.ExpenseFilter{}))
	require.Len(t, alices, 1)
	assert.Equal(t, aliceExpense.ID, alices[0].ID)
}

func TestStore_ListIsLazyAndRestartable(t *testing.T) {
	e := newEnv(t)
	s := New(e.store, WithPageSize(2))
	ctx := context.Background()
	alice := e.identity("alice@example.com")

	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"} {
		_, err := s.Add(ctx, alice, newExpense(t, 100, "food", d))
		require.NoError(t, err)
	}

	seq := s.List(ctx, alice, repository.ExpenseFilter{})

	first := collect(t, seq)
	require.Len(t, first, 5)
	assert.Equal(t, "2024-01-05", first[0].Date.String())
	assert.Equal(t, "2024-01-01", first[4].Date.String())

	again := collect(t, seq)
	assert.Equal(t, first, again)

	// Stopping early must not leave anything held open.
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)

	page, next, err := s.Page(ctx, alice, repository.ExpenseFilter{}, "", 10)
	require.NoError(t, err)
	assert.Len(t, page, 5)
	assert.Empty(t, next)
}

func TestStore_PageWithoutLimitUsesPageSize(t *testing.T) {
	e := newEnv(t)
	s := New(e.store, WithPageSize(2))
	ctx := context.Background()
	alice := e.identity("alice@example.com")

	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		_, err := s.Add(ctx, alice, newExpense(t, 100, "food", d))
		require.NoError(t, err)
	}

	page, next, err := s.Page(ctx, alice, repository.ExpenseFilter{}, "", 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2024-01-03", page[0].Date.String())
	require.NotEmpty(t, next)

	rest, next, err := s.Page(ctx, alice, repository.ExpenseFilter{}, next, -1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "2024-01-01", rest[0].Date.String())
	assert.Empty(t, next)

	// Explicit limits are capped, not replaced.
	all, _, err := New(e.store).Page(ctx, alice, repository.ExpenseFilter{}, "", MaxPageSize+1)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_RangeExcludes(t *testing.T) {
	e := newEnv(t)
	s := New(e.store)
	ctx := context.Background()
	alice := e.identity("alice@example.com")

	_, err := s.Add(ctx, alice, newExpense(t, 1250, "food", "2024-01-15"))
	require.NoError(t, err)

	from, _ := model.ParseDate("2024-01-01")
	to, _ := model.ParseDate("2024-01-31")
	inside := collect(t, s.List(ctx, alice, repository.ExpenseFilter{Range: model.DateRange{From: &from, To: &to}}))
	assert.Len(t, inside, 1)

	febFrom, _ := model.ParseDate("2024-02-01")
	febTo, _ := model.ParseDate("2024-02-29")
	outside := collect(t, s.List(ctx, alice, repository.ExpenseFilter{Range: model.DateRange{From: &febFrom, To: &febTo}}))
	assert.Empty(t, outside)

	_, _, err = s.Page(ctx, alice, repository.ExpenseFilter{Range: model.DateRange{From: &to, To: &from}}, "", 10)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestStore_Summarize(t *testing.T) {
	e := newEnv(t)
	s := New(e.store)
	ctx := context.Background()
	alice := e.identity("alice@example.com")

	for _, in := range []model.NewExpense{
		newExpense(t, 1000, "food", "2024-01-01"),
		newExpense(t, 500, "food", "2024-01-02"),
		newExpense(t, 300, "transit", "2024-01-03"),
	} {
		_, err := s.Add(ctx, alice, in)
		require.NoError(t, err)
	}

	summary, err := s.Summarize(ctx, alice, repository.ExpenseFilter{})
	require.NoError(t, err)
	assert.Equal(t, model.Amount(1800), summary.Total)
	assert.Equal(t, map[string]model.Amount{"food": 1500, "transit": 300}, summary.ByCategory())

	food, err := s.Summarize(ctx, alice, repository.ExpenseFilter{Categories: []string{"food"}})
	require.NoError(t, err)
	assert.Equal(t, model.Amount(1500), food.Total)
	require.Len(t, food.Categories, 1)
	assert.Equal(t, int64(2), food.Categories[0].Count)

	bob := e.identity("bob@example.com")
	empty, err := s.Summarize(ctx, bob, repository.ExpenseFilter{})
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Categories)
}
