package service

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
	"github.com/tallyhq/tally/internal/retry"
)

// ExpenseQuery selects expenses by inclusive date bounds and category.
// Nil bounds and an empty category match everything.
type ExpenseQuery struct {
	From     *model.Date
	To       *model.Date
	Category string
}

func (q ExpenseQuery) filter() repository.ExpenseFilter {
	f := repository.ExpenseFilter{Range: model.DateRange{From: q.From, To: q.To}}
	if c := strings.TrimSpace(q.Category); c != "" {
		f.Categories = []string{c}
	}
	return f
}

// ExpensePage is one page of a cursor-paged listing.
type ExpensePage struct {
	Expenses   []*model.Expense
	NextCursor string
}

// AddExpense records an expense for the caller.
func (s *Service) AddExpense(ctx context.Context, apiKey string, input model.NewExpense) (*model.Expense, error) {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	input, err = input.Normalize()
	if err != nil {
		return nil, err
	}

	expense, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.Expense, error) {
		return s.expenses.Add(ctx, id, input)
	})
	if err != nil {
		return nil, s.mapError(ctx, "add expense", err)
	}

	s.metrics.IncExpenseCreated()
	s.logger.DebugContext(ctx, "expense added",
		slog.String("user_id", id.UserID()),
		slog.String("expense_id", expense.ID),
	)
	return expense, nil
}

// ListExpenses streams the caller's matching expenses, newest date first.
// The key is checked each time iteration starts, so a sequence obtained
// with a since-rotated key yields ErrUnauthenticated. Errors are yielded
// once and end the sequence.
func (s *Service) ListExpenses(ctx context.Context, apiKey string, query ExpenseQuery) iter.Seq2[*model.Expense, error] {
	return func(yield func(*model.Expense, error) bool) {
		id, err := s.authenticate(ctx, apiKey)
		if err != nil {
			yield(nil, err)
			return
		}
		for expense, err := range s.expenses.List(ctx, id, query.filter()) {
			if err != nil {
				yield(nil, s.mapError(ctx, "list expenses", err))
				return
			}
			if !yield(expense, nil) {
				return
			}
		}
	}
}

// ListExpensesPage returns one page of the caller's matching expenses.
// Pass the returned NextCursor to fetch the following page; it is empty
// on the last page.
func (s *Service) ListExpensesPage(ctx context.Context, apiKey string, query ExpenseQuery, cursor string, limit int) (*ExpensePage, error) {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	page := &ExpensePage{}
	err = s.do(ctx, func(ctx context.Context) error {
		var err error
		page.Expenses, page.NextCursor, err = s.expenses.Page(ctx, id, query.filter(), cursor, limit)
		return err
	})
	if err != nil {
		return nil, s.mapError(ctx, "list expenses", err)
	}
	if page.Expenses == nil {
		page.Expenses = []*model.Expense{}
	}
	return page, nil
}

// SummarizeByCategory totals the caller's matching expenses per category.
func (s *Service) SummarizeByCategory(ctx context.Context, apiKey string, query ExpenseQuery) (*model.Summary, error) {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	summary, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.Summary, error) {
		return s.expenses.Summarize(ctx, id, query.filter())
	})
	if err != nil {
		return nil, s.mapError(ctx, "summarize expenses", err)
	}
	return summary, nil
}

// DeleteExpense removes one of the caller's expenses. An expense that does
// not exist and one owned by someone else both yield ErrNotFound.
func (s *Service) DeleteExpense(ctx context.Context, apiKey, expenseID string) error {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return err
	}

	err = s.do(ctx, func(ctx context.Context) error {
		return s.expenses.Delete(ctx, id, expenseID)
	})
	if err != nil {
		return s.mapError(ctx, "delete expense", err)
	}

	s.metrics.IncExpenseDeleted()
	return nil
}

// Categories returns the suggested expense categories.
func (s *Service) Categories() []string {
	return slices.Clone(model.Categories)
}
