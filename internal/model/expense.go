package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxCategoryLength = 64
	maxNoteLength     = 1024
)

// Categories is the suggested set of expense categories.
// Any non-empty label is accepted; these are offered to clients as defaults.
var Categories = []string{
	"Food & Dining",
	"Transportation",
	"Shopping",
	"Entertainment",
	"Bills & Utilities",
	"Healthcare",
	"Travel",
	"Education",
	"Business",
	"Other",
}

// Expense is a single spending record owned by exactly one user.
type Expense struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"`
	Amount      Amount    `json:"amount"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory,omitempty"`
	Date        Date      `json:"date"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewExpense holds the caller-writable fields of an expense.
// Ownership is never part of it.
type NewExpense struct {
	Amount      Amount
	Category    string
	Subcategory string
	Date        Date
	Note        string
}

// Normalize trims text fields and validates the expense.
func (e NewExpense) Normalize() (NewExpense, error) {
	e.Category = strings.TrimSpace(e.Category)
	e.Subcategory = strings.TrimSpace(e.Subcategory)
	e.Note = strings.TrimSpace(e.Note)

	if err := e.Amount.Validate(); err != nil {
		return NewExpense{}, err
	}
	if e.Category == "" {
		return NewExpense{}, fmt.Errorf("%w: category is required", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(e.Category) > maxCategoryLength {
		return NewExpense{}, fmt.Errorf("%w: category is too long", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(e.Subcategory) > maxCategoryLength {
		return NewExpense{}, fmt.Errorf("%w: subcategory is too long", ErrInvalidArgument)
	}
	if utf8.RuneCountInString(e.Note) > maxNoteLength {
		return NewExpense{}, fmt.Errorf("%w: note is too long", ErrInvalidArgument)
	}
	if e.Date.IsZero() {
		return NewExpense{}, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	if _, err := ParseDate(e.Date.String()); err != nil {
		return NewExpense{}, err
	}
	return e, nil
}

// DateRange is an inclusive, optionally open-ended range of dates.
type DateRange struct {
	From *Date
	To   *Date
}

// Validate rejects ranges whose start is after their end.
func (r DateRange) Validate() error {
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return fmt.Errorf("%w: from date is after to date", ErrInvalidArgument)
	}
	return nil
}

// Contains reports whether d lies within the range.
func (r DateRange) Contains(d Date) bool {
	if r.From != nil && d.Before(*r.From) {
		return false
	}
	if r.To != nil && d.After(*r.To) {
		return false
	}
	return true
}

// CategoryTotal is the aggregate of one category.
type CategoryTotal struct {
	Category string `json:"category"`
	Total    Amount `json:"total_amount"`
	Count    int64  `json:"count"`
}

// Summary aggregates expenses by category, largest total first.
type Summary struct {
	Total      Amount          `json:"total_amount"`
	Categories []CategoryTotal `json:"summary"`
}

// ByCategory returns the summary as a category to total mapping.
func (s *Summary) ByCategory() map[string]Amount {
	out := make(map[string]Amount, len(s.Categories))
	for _, c := range s.Categories {
		out[c.Category] = c.Total
	}
	return out
}
