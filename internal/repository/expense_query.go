package repository

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/tallyhq/tally/internal/model"
)

// expenseQuery accumulates WHERE clauses and arguments for expense queries.
// Dialects differ only in placeholder syntax and in how dates and category
// sets are bound.
type expenseQuery struct {
	dialect    string
	conditions []string
	args       []any
}

func newExpenseQuery(dialect, ownerID string) *expenseQuery {
	q := &expenseQuery{dialect: dialect}
	q.where("owner_id = %s", ownerID)
	return q
}

// placeholder returns the next bind marker.
func (q *expenseQuery) placeholder() string {
	if q.dialect == DriverPostgres {
		return fmt.Sprintf("$%d", len(q.args)+1)
	}
	return "?"
}

// where adds a condition; each %s in format consumes one of args.
func (q *expenseQuery) where(format string, args ...any) {
	markers := make([]any, len(args))
	for i, arg := range args {
		markers[i] = q.placeholder()
		q.args = append(q.args, arg)
	}
	q.conditions = append(q.conditions, fmt.Sprintf(format, markers...))
}

func (q *expenseQuery) date(d model.Date) any {
	if q.dialect == DriverPostgres {
		return d.Time()
	}
	return d.String()
}

func (q *expenseQuery) applyFilter(filter ExpenseFilter) {
	if filter.Range.From != nil {
		q.where("expense_date >= %s", q.date(*filter.Range.From))
	}
	if filter.Range.To != nil {
		q.where("expense_date <= %s", q.date(*filter.Range.To))
	}
	if len(filter.Categories) == 0 {
		return
	}
	if q.dialect == DriverPostgres {
		q.where("category = ANY(%s)", pq.Array(filter.Categories))
		return
	}
	args := make([]any, len(filter.Categories))
	markers := make([]string, len(filter.Categories))
	for i, c := range filter.Categories {
		args[i] = c
		markers[i] = "%s"
	}
	q.where("category IN ("+strings.Join(markers, ", ")+")", args...)
}

func (q *expenseQuery) after(cursor *ExpenseCursor) {
	d, _ := model.ParseDate(cursor.Date)
	// Row-value comparison keeps the keyset stable for equal dates.
	q.where("(expense_date, id) < (%s, %s)", q.date(d), cursor.ID)
}

func (q *expenseQuery) clause() string {
	return " WHERE " + strings.Join(q.conditions, " AND ")
}

// listSQL returns the page query; it fetches limit+1 rows to detect a next page.
func (q *expenseQuery) listSQL(limit int) (string, []any) {
	query := `SELECT id, owner_id, amount, category, subcategory, expense_date, note, created_at FROM expenses` +
		q.clause() + " ORDER BY expense_date DESC, id DESC LIMIT " + q.placeholder()
	return query, append(q.args, limit+1)
}

// summarySQL groups matching rows by category, largest total first.
func (q *expenseQuery) summarySQL() (string, []any) {
	sum := "COALESCE(SUM(amount), 0)"
	if q.dialect == DriverPostgres {
		sum = "COALESCE(SUM(amount), 0)::BIGINT"
	}
	query := `SELECT category, ` + sum + ` AS total, COUNT(*) FROM expenses` +
		q.clause() + " GROUP BY category ORDER BY total DESC, category ASC"
	return query, q.args
}
