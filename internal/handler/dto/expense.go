package dto

import (
	"time"

	"github.com/tallyhq/tally/internal/model"
)

// CreateExpenseRequest is the body of POST /v1/expenses.
type CreateExpenseRequest struct {
	Amount      model.Amount `json:"amount"`
	Category    string       `json:"category"`
	Subcategory string       `json:"subcategory,omitempty"`
	Date        model.Date   `json:"date"`
	Note        string       `json:"note,omitempty"`
}

// ToNewExpense converts the request into the service input.
func (r CreateExpenseRequest) ToNewExpense() model.NewExpense {
	return model.NewExpense{
		Amount:      r.Amount,
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Date:        r.Date,
		Note:        r.Note,
	}
}

// ExpenseResponse represents an expense in API responses.
type ExpenseResponse struct {
	ID          string       `json:"id"`
	Amount      model.Amount `json:"amount"`
	Category    string       `json:"category"`
	Subcategory string       `json:"subcategory,omitempty"`
	Date        model.Date   `json:"date"`
	Note        string       `json:"note,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ExpenseListResponse is one page of expenses.
type ExpenseListResponse struct {
	Data       []ExpenseResponse `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

// SummaryResponse is the per-category aggregate of matching expenses.
type SummaryResponse struct {
	Total      model.Amount          `json:"total_amount"`
	Categories []model.CategoryTotal `json:"summary"`
}

// CategoriesResponse lists the suggested categories.
type CategoriesResponse struct {
	Categories []string `json:"categories"`
}

// ToExpenseResponse converts an Expense model to ExpenseResponse.
func ToExpenseResponse(e *model.Expense) ExpenseResponse {
	return ExpenseResponse{
		ID:          e.ID,
		Amount:      e.Amount,
		Category:    e.Category,
		Subcategory: e.Subcategory,
		Date:        e.Date,
		Note:        e.Note,
		CreatedAt:   e.CreatedAt,
	}
}

// ToExpenseListResponse converts a page of expenses.
func ToExpenseListResponse(expenses []*model.Expense, nextCursor string) *ExpenseListResponse {
	data := make([]ExpenseResponse, len(expenses))
	for i, e := range expenses {
		data[i] = ToExpenseResponse(e)
	}
	return &ExpenseListResponse{
		Data: data,
		Pagination: Pagination{
			NextCursor: nextCursor,
			HasMore:    nextCursor != "",
		},
	}
}

// ToSummaryResponse converts a Summary model.
func ToSummaryResponse(s *model.Summary) *SummaryResponse {
	categories := s.Categories
	if categories == nil {
		categories = []model.CategoryTotal{}
	}
	return &SummaryResponse{Total: s.Total, Categories: categories}
}
