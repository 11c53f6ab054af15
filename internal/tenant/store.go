// Package tenant scopes every expense read and write to one authenticated user.
//
// Callers never pass an owner id. The owner is taken from the auth.Identity,
// which only the authentication gate can produce.
package tenant

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
)

const (
	// DefaultPageSize is the page size of a Store built without WithPageSize.
	DefaultPageSize = 50
	// MaxPageSize caps a single page.
	MaxPageSize = 200
)

// Store provides tenant-scoped access to expenses.
type Store struct {
	expenses repository.ExpenseRepository
	pageSize int
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the page size used by List and by Page calls that
// pass no limit.
func WithPageSize(n int) Option {
	return func(s *Store) {
		s.pageSize = clampLimit(n)
	}
}

// WithClock sets the time source used to stamp new expenses.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a Store over expenses.
func New(expenses repository.ExpenseRepository, opts ...Option) *Store {
	s := &Store{
		expenses: expenses,
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add stores a new expense owned by id.
func (s *Store) Add(ctx context.Context, id auth.Identity, in model.NewExpense) (*model.Expense, error) {
	if id.IsZero() {
		return nil, auth.ErrUnauthenticated
	}

	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	expense := &model.Expense{
		ID:          ulid.Make().String(),
		OwnerID:     id.UserID(),
		Amount:      in.Amount,
		Category:    in.Category,
		Subcategory: in.Subcategory,
		Date:        in.Date,
		Note:        in.Note,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.expenses.CreateExpense(ctx, expense); err != nil {
		return nil, err
	}
	return expense, nil
}

// Page returns one page of id's expenses and the cursor of the next page.
// An empty cursor starts from the newest expense; an empty next cursor
// means there are no more pages. A limit of zero or less uses the store's
// page size.
func (s *Store) Page(ctx context.Context, id auth.Identity, filter repository.ExpenseFilter, cursor string, limit int) ([]*model.Expense, string, error) {
	if id.IsZero() {
		return nil, "", auth.ErrUnauthenticated
	}
	if err := validateFilter(filter); err != nil {
		return nil, "", err
	}
	return s.expenses.ListExpenses(ctx, id.UserID(), filter, cursor, s.limit(limit))
}

// List returns every matching expense of id, newest date first.
// Pages are fetched lazily as the sequence is consumed, and ranging over
// the sequence again starts over from the first page. On failure the error
// is yielded once and the sequence ends.
func (s *Store) List(ctx context.Context, id auth.Identity, filter repository.ExpenseFilter) iter.Seq2[*model.Expense, error] {
	return func(yield func(*model.Expense, error) bool) {
		cursor := ""
		for {
			page, next, err := s.Page(ctx, id, filter, cursor, s.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, expense := range page {
				if !yield(expense, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			cursor = next
		}
	}
}

// Delete removes expense expenseID if, and only if, id owns it.
// A foreign expense is reported exactly like a missing one.
func (s *Store) Delete(ctx context.Context, id auth.Identity, expenseID string) error {
	if id.IsZero() {
		return auth.ErrUnauthenticated
	}
	if expenseID == "" {
		return repository.ErrExpenseNotFound
	}
	return s.expenses.DeleteExpense(ctx, id.UserID(), expenseID)
}

// Summarize totals id's matching expenses per category.
func (s *Store) Summarize(ctx context.Context, id auth.Identity, filter repository.ExpenseFilter) (*model.Summary, error) {
	if id.IsZero() {
		return nil, auth.ErrUnauthenticated
	}
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	totals, err := s.expenses.SummarizeExpenses(ctx, id.UserID(), filter)
	if err != nil {
		return nil, err
	}

	summary := &model.Summary{Categories: make([]model.CategoryTotal, 0, len(totals))}
	for _, t := range totals {
		summary.Total += t.Total
		summary.Categories = append(summary.Categories, t)
	}
	return summary, nil
}

func validateFilter(filter repository.ExpenseFilter) error {
	if err := filter.Range.Validate(); err != nil {
		return err
	}
	for _, c := range filter.Categories {
		if c == "" {
			return fmt.Errorf("%w: empty category filter", model.ErrInvalidArgument)
		}
	}
	return nil
}

// limit applies the store's page size to a zero or negative request.
func (s *Store) limit(n int) int {
	if n <= 0 {
		return s.pageSize
	}
	return clampLimit(n)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}
