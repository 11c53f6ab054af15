package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tallyhq/tally/internal/model"
)

// CreateExpense inserts a new expense into the database.
func (s *SQLite) CreateExpense(ctx context.Context, expense *model.Expense) error {
	query := `
		INSERT INTO expenses (id, owner_id, amount, category, subcategory, expense_date, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		expense.ID,
		expense.OwnerID,
		int64(expense.Amount),
		expense.Category,
		expense.Subcategory,
		expense.Date.String(),
		expense.Note,
		formatTime(expense.CreatedAt),
	)
	if err != nil {
		if isSQLiteForeignKey(err) {
			return fmt.Errorf("failed to create expense: %w", ErrUserNotFound)
		}
		return sqliteError("failed to create expense", err)
	}
	return nil
}

// ListExpenses returns one page of the owner's expenses, newest date first.
// The page is read completely before returning so the single connection
// is free for the caller's next statement.
func (s *SQLite) ListExpenses(ctx context.Context, ownerID string, filter ExpenseFilter, cursor string, limit int) ([]*model.Expense, string, error) {
	q := newExpenseQuery(DriverSQLite, ownerID)
	q.applyFilter(filter)
	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		q.after(c)
	}

	query, args := q.listSQL(limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", sqliteError("failed to list expenses", err)
	}
	defer rows.Close()

	var expenses []*model.Expense
	for rows.Next() {
		expense, err := scanSQLiteExpense(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, "", sqliteError("error iterating expenses", err)
	}

	expenses, next := trimPage(expenses, limit)
	return expenses, next, nil
}

// DeleteExpense removes an expense only if ownerID owns it.
func (s *SQLite) DeleteExpense(ctx context.Context, ownerID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return sqliteError("failed to delete expense", err)
	}
	return requireRow(result, ErrExpenseNotFound)
}

// SummarizeExpenses totals the owner's matching expenses per category.
func (s *SQLite) SummarizeExpenses(ctx context.Context, ownerID string, filter ExpenseFilter) ([]model.CategoryTotal, error) {
	q := newExpenseQuery(DriverSQLite, ownerID)
	q.applyFilter(filter)

	query, args := q.summarySQL()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, sqliteError("failed to summarize expenses", err)
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
		return nil, sqliteError("error iterating summary", err)
	}
	return totals, nil
}

func scanSQLiteExpense(rows *sql.Rows) (*model.Expense, error) {
	var (
		e               model.Expense
		amount          int64
		date, createdAt string
		err             error
	)
	if err = rows.Scan(
		&e.ID,
		&e.OwnerID,
		&amount,
		&e.Category,
		&e.Subcategory,
		&date,
		&e.Note,
		&createdAt,
	); err != nil {
		return nil, err
	}

	e.Amount = model.Amount(amount)
	if e.Date, err = model.ParseDate(date); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}
