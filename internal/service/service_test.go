package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/metrics"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
)

const testPassword = "Secret123!"

func newStore(t *testing.T) *repository.SQLite {
	t.Helper()
	store, err := repository.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newHasher(t *testing.T, iterations int) *auth.Hasher {
	t.Helper()
	h, err := auth.NewHasher(auth.Params{Algorithm: auth.AlgorithmPBKDF2, Iterations: iterations}, 4)
	require.NoError(t, err)
	return h
}

func newService(t *testing.T, store repository.Store, opts ...Option) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithLogger(logger), WithKeyEnvironment(auth.EnvTest)}, opts...)
	return New(store, newHasher(t, 1000), opts...)
}

func register(t *testing.T, svc *Service, email string) *Registration {
	t.Helper()
	reg, err := svc.Register(context.Background(), RegisterInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	return reg
}

func date(t *testing.T, s string) *model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return &d
}

func expense(t *testing.T, amount, category, day string) model.NewExpense {
	t.Helper()
	a, err := model.ParseAmount(amount)
	require.NoError(t, err)
	return model.NewExpense{Amount: a, Category: category, Date: *date(t, day)}
}

func listAll(t *testing.T, svc *Service, key string, q ExpenseQuery) ([]*model.Expense, error) {
	t.Helper()
	var out []*model.Expense
	for e, err := range svc.ListExpenses(context.Background(), key, q) {
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ============================================================================
// Accounts
// ============================================================================

func TestRegister(t *testing.T) {
	recorder := metrics.NewInMemory()
	svc := newService(t, newStore(t), WithMetrics(recorder))
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Email: "  Alice@Example.COM ", Name: "Alice", Password: testPassword})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.UserID)
	assert.True(t, auth.ValidateKeyFormat(reg.APIKey))
	assert.True(t, strings.HasPrefix(reg.APIKey, "tk_test_"))

	account, err := svc.Account(ctx, reg.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, "Alice", account.Name)
	assert.Equal(t, auth.DigestAPIKey(reg.APIKey), account.APIKeyHash)
	assert.NotContains(t, account.APIKeyHash, reg.APIKey)

	assert.Equal(t, uint64(1), recorder.Snapshot().UsersRegistered)
}

func TestRegister_Errors(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	register(t, svc, "taken@example.com")

	tests := []struct {
		name  string
		input RegisterInput
		want  error
	}{
		{"duplicate email", RegisterInput{Email: "taken@example.com", Password: testPassword}, ErrDuplicateEmail},
		{"duplicate email differing in case", RegisterInput{Email: "TAKEN@example.com", Password: testPassword}, ErrDuplicateEmail},
		{"weak password", RegisterInput{Email: "new@example.com", Password: "short"}, ErrWeakPassword},
		{"empty password", RegisterInput{Email: "new@example.com", Password: ""}, ErrWeakPassword},
		{"invalid email", RegisterInput{Email: "not-an-email", Password: testPassword}, ErrInvalidArgument},
		{"empty email", RegisterInput{Email: "", Password: testPassword}, ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	svc := newService(t, newStore(t))

	const workers = 8
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		dupes     atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), RegisterInput{Email: "race@example.com", Password: testPassword})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrDuplicateEmail):
				dupes.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), dupes.Load())
}

func TestAuthenticate_RejectsNonLiveKeys(t *testing.T) {
	svc := newService(t, newStore(t))
	reg := register(t, svc, "gate@example.com")
	ctx := context.Background()

	_, err := svc.Account(ctx, reg.APIKey)
	require.NoError(t, err)

	candidates := []string{
		"",
		"garbage",
		reg.APIKey + "0",
		strings.ToUpper(reg.APIKey),
		strings.Replace(reg.APIKey, "tk_test_", "tk_live_", 1),
		"tk_test_" + strings.Repeat("0", 64),
	}
	for _, key := range candidates {
		_, err := svc.Account(ctx, key)
		assert.ErrorIs(t, err, ErrUnauthenticated, "key %q", key)
	}
}

func TestRegenerateAPIKey(t *testing.T) {
	recorder := metrics.NewInMemory()
	svc := newService(t, newStore(t), WithMetrics(recorder))
	ctx := context.Background()
	reg := register(t, svc, "rotate@example.com")

	newKey, err := svc.RegenerateAPIKey(ctx, reg.APIKey)
	require.NoError(t, err)
	assert.NotEqual(t, reg.APIKey, newKey)

	_, err = svc.Account(ctx, reg.APIKey)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	account, err := svc.Account(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, account.ID)

	_, err = svc.RegenerateAPIKey(ctx, reg.APIKey)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Equal(t, uint64(1), recorder.Snapshot().APIKeysRotated)
}

func TestRegenerateAPIKey_ConcurrentSingleWinner(t *testing.T) {
	svc := newService(t, newStore(t))
	reg := register(t, svc, "cas@example.com")

	const workers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		keys []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := svc.RegenerateAPIKey(context.Background(), reg.APIKey)
			if err != nil {
				assert.ErrorIs(t, err, ErrUnauthenticated)
				return
			}
			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, keys, 1)
	_, err := svc.Account(context.Background(), keys[0])
	assert.NoError(t, err)
}

func TestRecoverAPIKey(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	reg := register(t, svc, "recover@example.com")

	_, err := svc.RecoverAPIKey(ctx, "recover@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.RecoverAPIKey(ctx, "nobody@example.com", testPassword)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.RecoverAPIKey(ctx, "not an email", testPassword)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	newKey, err := svc.RecoverAPIKey(ctx, " RECOVER@example.com", testPassword)
	require.NoError(t, err)

	_, err = svc.Account(ctx, reg.APIKey)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Account(ctx, newKey)
	assert.NoError(t, err)
}

func TestRecoverAPIKey_RehashesOutdatedCredential(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	old := newService(t, store)
	register(t, old, "upgrade@example.com")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	upgraded := New(store, newHasher(t, 2000), WithLogger(logger))
	_, err := upgraded.RecoverAPIKey(ctx, "upgrade@example.com", testPassword)
	require.NoError(t, err)

	user, err := store.GetUserByEmail(ctx, "upgrade@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2000, user.Password.Iterations)

	// The upgraded hash still verifies.
	_, err = upgraded.RecoverAPIKey(ctx, "upgrade@example.com", testPassword)
	assert.NoError(t, err)
}

func TestChangePassword_KeepsAPIKey(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	reg := register(t, svc, "change@example.com")

	err := svc.ChangePassword(ctx, reg.APIKey, "wrong-password", "NewSecret456!")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	err = svc.ChangePassword(ctx, reg.APIKey, testPassword, "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	require.NoError(t, svc.ChangePassword(ctx, reg.APIKey, testPassword, "NewSecret456!"))

	_, err = svc.Account(ctx, reg.APIKey)
	assert.NoError(t, err, "changing the password must not rotate the key")

	_, err = svc.RecoverAPIKey(ctx, "change@example.com", testPassword)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.RecoverAPIKey(ctx, "change@example.com", "NewSecret456!")
	assert.NoError(t, err)
}

func TestDeleteAccount(t *testing.T) {
	store := newStore(t)
	svc := newService(t, store)
	ctx := context.Background()
	reg := register(t, svc, "leaving@example.com")

	_, err := svc.AddExpense(ctx, reg.APIKey, expense(t, "10", "food", "2024-01-01"))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteAccount(ctx, reg.APIKey, "wrong-password"), ErrUnauthenticated)
	require.NoError(t, svc.DeleteAccount(ctx, reg.APIKey, testPassword))

	_, err = svc.Account(ctx, reg.APIKey)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	page, _, err := store.ListExpenses(ctx, reg.UserID, repository.ExpenseFilter{}, "", 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	// The email can be registered again.
	register(t, svc, "leaving@example.com")
}

// ============================================================================
// Expenses
// ============================================================================

func TestConcreteScenario(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
	k1 := reg.APIKey

	e1, err := svc.AddExpense(ctx, k1, expense(t, "12.50", "food", "2024-01-05"))
	require.NoError(t, err)

	january := ExpenseQuery{From: date(t, "2024-01-01"), To: date(t, "2024-01-31")}
	got, err := listAll(t, svc, k1, january)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)

	k2, err := svc.RegenerateAPIKey(ctx, k1)
	require.NoError(t, err)

	_, err = listAll(t, svc, k1, january)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	got, err = listAll(t, svc, k2, january)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e1.ID, got[0].ID)
}

func TestAddExpense_RoundTrip(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	reg := register(t, svc, "round@example.com")

	in := expense(t, "12.50", "food", "2024-01-15")
	in.Subcategory = "lunch"
	in.Note = "team lunch"
	added, err := svc.AddExpense(ctx, reg.APIKey, in)
	require.NoError(t, err)
	assert.Equal(t, model.Amount(1250), added.Amount)

	got, err := listAll(t, svc, reg.APIKey, ExpenseQuery{From: date(t, "2024-01-01"), To: date(t, "2024-01-31")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, added.ID, got[0].ID)
	assert.Equal(t, added.Amount, got[0].Amount)
	assert.Equal(t, added.Category, got[0].Category)
	assert.Equal(t, added.Subcategory, got[0].Subcategory)
	assert.Equal(t, added.Date, got[0].Date)
	assert.Equal(t, added.Note, got[0].Note)
	assert.Equal(t, added.OwnerID, got[0].OwnerID)

	got, err = listAll(t, svc, reg.APIKey, ExpenseQuery{From: date(t, "2024-02-01"), To: date(t, "2024-02-29")})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.AddExpense(ctx, reg.APIKey, model.NewExpense{Amount: 100, Category: " ", Date: *date(t, "2024-01-01")})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIsolation(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	alice := register(t, svc, "alice@example.com")
	bob := register(t, svc, "bob@example.com")

	aliceExpense, err := svc.AddExpense(ctx, alice.APIKey, expense(t, "99", "rent", "2024-01-01"))
	require.NoError(t, err)
	_, err = svc.AddExpense(ctx, bob.APIKey, expense(t, "1", "food", "2024-01-01"))
	require.NoError(t, err)

	bobs, err := listAll(t, svc, bob.APIKey, ExpenseQuery{})
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.NotEqual(t, aliceExpense.ID, bobs[0].ID)

	summary, err := svc.SummarizeByCategory(ctx, bob.APIKey, ExpenseQuery{})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.Amount{"food": 100}, summary.ByCategory())

	err = svc.DeleteExpense(ctx, bob.APIKey, aliceExpense.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.DeleteExpense(ctx, bob.APIKey, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.ErrorIs(t, err, ErrNotFound)

	alices, err := listAll(t, svc, alice.APIKey, ExpenseQuery{})
	require.NoError(t, err)
	require.Len(t, alices, 1)

	require.NoError(t, svc.DeleteExpense(ctx, alice.APIKey, aliceExpense.ID))
	alices, err = listAll(t, svc, alice.APIKey, ExpenseQuery{})
	require.NoError(t, err)
	assert.Empty(t, alices)
}

func TestSummarizeByCategory(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	reg := register(t, svc, "sum@example.com")

	for _, in := range []model.NewExpense{
		expense(t, "10", "food", "2024-01-01"),
		expense(t, "5", "food", "2024-01-02"),
		expense(t, "3", "transit", "2024-01-03"),
	} {
		_, err := svc.AddExpense(ctx, reg.APIKey, in)
		require.NoError(t, err)
	}

	summary, err := svc.SummarizeByCategory(ctx, reg.APIKey, ExpenseQuery{})
	require.NoError(t, err)
	byCategory := summary.ByCategory()
	assert.Equal(t, "15.00", byCategory["food"].String())
	assert.Equal(t, "3.00", byCategory["transit"].String())
	assert.Len(t, byCategory, 2)
	assert.Equal(t, "18.00", summary.Total.String())

	transit, err := svc.SummarizeByCategory(ctx, reg.APIKey, ExpenseQuery{Category: "transit"})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.Amount{"transit": 300}, transit.ByCategory())

	ranged, err := svc.SummarizeByCategory(ctx, reg.APIKey, ExpenseQuery{To: date(t, "2024-01-01")})
	require.NoError(t, err)
	assert.Equal(t, map[string]model.Amount{"food": 1000}, ranged.ByCategory())
}

func TestListExpensesPage(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	reg := register(t, svc, "pages@example.com")

	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		_, err := svc.AddExpense(ctx, reg.APIKey, expense(t, "1", "food", d))
		require.NoError(t, err)
	}

	first, err := svc.ListExpensesPage(ctx, reg.APIKey, ExpenseQuery{}, "", 2)
	require.NoError(t, err)
	require.Len(t, first.Expenses, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListExpensesPage(ctx, reg.APIKey, ExpenseQuery{}, first.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, second.Expenses, 1)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, "2024-01-01", second.Expenses[0].Date.String())

	_, err = svc.ListExpensesPage(ctx, reg.APIKey, ExpenseQuery{}, "!!not-a-cursor", 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCategories(t *testing.T) {
	svc := newService(t, newStore(t))

	cats := svc.Categories()
	assert.Contains(t, cats, "Food & Dining")
	cats[0] = "mutated"
	assert.Equal(t, "Food & Dining", svc.Categories()[0])
}

// ============================================================================
// Transient store failures
// ============================================================================

// flakyStore fails key lookups with ErrUnavailable a fixed number of times.
type flakyStore struct {
	repository.Store
	failures atomic.Int32
}

func (f *flakyStore) GetUserByAPIKeyHash(ctx context.Context, hash string) (*model.User, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, repository.ErrUnavailable
	}
	return f.Store.GetUserByAPIKeyHash(ctx, hash)
}

func TestTransientFailures(t *testing.T) {
	store := newStore(t)
	reg := register(t, newService(t, store), "flaky@example.com")

	t.Run("retried until success", func(t *testing.T) {
		recorder := metrics.NewInMemory()
		flaky := &flakyStore{Store: store}
		flaky.failures.Store(2)
		svc := newService(t, flaky, WithMetrics(recorder))

		_, err := svc.Account(context.Background(), reg.APIKey)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), recorder.Snapshot().StoreRetries)
	})

	t.Run("exhausted retries surface unavailable", func(t *testing.T) {
		flaky := &flakyStore{Store: store}
		flaky.failures.Store(100)
		svc := newService(t, flaky, WithRetryAttempts(3))

		_, err := svc.Account(context.Background(), reg.APIKey)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.False(t, errors.Is(err, ErrUnauthenticated), "outage must not look like a bad key")
		assert.Equal(t, int32(100-3), flaky.failures.Load())
	})
}

// vanishingOwnerStore deletes the owner just before the expense insert, as
// a concurrent DeleteAccount would.
type vanishingOwnerStore struct {
	repository.Store
}

func (v *vanishingOwnerStore) CreateExpense(ctx context.Context, e *model.Expense) error {
	if err := v.Store.DeleteUser(ctx, e.OwnerID); err != nil {
		return err
	}
	return v.Store.CreateExpense(ctx, e)
}

func TestAddExpense_AccountDeletedConcurrently(t *testing.T) {
	store := newStore(t)
	reg := register(t, newService(t, store), "gone@example.com")
	svc := newService(t, &vanishingOwnerStore{Store: store})

	_, err := svc.AddExpense(context.Background(), reg.APIKey, expense(t, "1.00", "food", "2024-01-01"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, errors.Is(err, ErrStoreUnavailable))
}
