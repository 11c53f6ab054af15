package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tallyhq/tally/internal/model"
)

// CreateExpense inserts a new expense into the database.
func (p *Postgres) CreateExpense(ctx context.Context, expense *model.Expense) error {
	query := `
		INSERT INTO expenses (id, owner_id, amount, category, subcategory, expense_date, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := p.pool.Exec(ctx, query,
		expense.ID,
		expense.OwnerID,
		int64(expense.Amount),
		expense.Category,
		expense.Subcategory,
		expense.Date.Time(),
		expense.Note,
		expense.CreatedAt,
	)
	if err != nil {
		if isPgForeignKey(err) {
			return fmt.Errorf("failed to create expense: %w", ErrUserNotFound)
		}
		return pgError("failed to create expense", err)
	}
	return nil
}

// ListExpenses returns one page of the owner's expenses, newest date first.
func (p *Postgres) ListExpenses(ctx context.Context, ownerID string, filter ExpenseFilter, cursor string, limit int) ([]*model.Expense, string, error) {
	q := newExpenseQuery(DriverPostgres, ownerID)
	q.applyFilter(filter)
	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		q.after(c)
	}

	query, args := q.listSQL(limit)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", pgError("failed to list expenses", err)
	}
	defer rows.Close()

	var expenses []*model.Expense
	for rows.Next() {
		expense, err := scanPgExpense(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, "", pgError("error iterating expenses", err)
	}

	expenses, next := trimPage(expenses, limit)
	return expenses, next, nil
}

// DeleteExpense removes an expense only if ownerID owns it.
func (p *Postgres) DeleteExpense(ctx context.Context, ownerID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return pgError("failed to delete expense", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExpenseNotFound
	}
	return nil
}

// SummarizeExpenses totals the owner's matching expenses per category.
func (p *Postgres) SummarizeExpenses(ctx context.Context, ownerID string, filter ExpenseFilter) ([]model.CategoryTotal, error) {
	q := newExpenseQuery(DriverPostgres, ownerID)
	q.applyFilter(filter)

	query, args := q.summarySQL()
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError("failed to summarize expenses", err)
	}
	defer rows.Close()

	var totals []model.CategoryTotal
	for rows.Next() {
		var (
			t     model.CategoryTotal
			total int64
		)
		if err := rows.Scan(&t.Category, &total, &t.Count); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		t.Total = model.Amount(total)
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("error iterating summary", err)
	}
	return totals, nil
}

func scanPgExpense(rows pgx.Rows) (*model.Expense, error) {
	var (
		e      model.Expense
		amount int64
		date   time.Time
	)
	err := rows.Scan(
		&e.ID,
		&e.OwnerID,
		&amount,
		&e.Category,
		&e.Subcategory,
		&date,
		&e.Note,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Amount = model.Amount(amount)
	e.Date = model.DateOf(date)
	return &e, nil
}
