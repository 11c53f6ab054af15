package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tallyhq/tally/internal/handler/dto"
	"github.com/tallyhq/tally/internal/middleware"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/service"
)

// ExpenseHandler handles HTTP requests for expense operations.
type ExpenseHandler struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewExpenseHandler creates a new ExpenseHandler.
func NewExpenseHandler(svc *service.Service, logger *slog.Logger) *ExpenseHandler {
	return &ExpenseHandler{svc: svc, logger: logger}
}

// Create handles POST /v1/expenses.
// The owner is always the key holder; an owner field in the body is ignored.
func (h *ExpenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateExpenseRequest
	if !decodeIgnoringUnknown(w, r, &req) {
		return
	}

	expense, err := h.svc.AddExpense(r.Context(), middleware.APIKeyFromRequest(r), req.ToNewExpense())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.ToExpenseResponse(expense))
}

// List handles GET /v1/expenses.
// Query: from, to (YYYY-MM-DD, inclusive), category, cursor, limit.
func (h *ExpenseHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query, ok := parseExpenseQuery(w, q)
	if !ok {
		return
	}

	limit := 0
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			invalidArgument(w, "%s: limit must be a positive integer", model.ErrInvalidArgument)
			return
		}
		limit = parsed
	}

	page, err := h.svc.ListExpensesPage(r.Context(), middleware.APIKeyFromRequest(r), query, q.Get("cursor"), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToExpenseListResponse(page.Expenses, page.NextCursor))
}

// Summary handles GET /v1/expenses/summary.
func (h *ExpenseHandler) Summary(w http.ResponseWriter, r *http.Request) {
	query, ok := parseExpenseQuery(w, r.URL.Query())
	if !ok {
		return
	}

	summary, err := h.svc.SummarizeByCategory(r.Context(), middleware.APIKeyFromRequest(r), query)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToSummaryResponse(summary))
}

// Delete handles DELETE /v1/expenses/{id}.
func (h *ExpenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		invalidArgument(w, "%s: expense id is required", model.ErrInvalidArgument)
		return
	}

	if err := h.svc.DeleteExpense(r.Context(), middleware.APIKeyFromRequest(r), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Categories handles GET /v1/categories.
func (h *ExpenseHandler) Categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.CategoriesResponse{Categories: h.svc.Categories()})
}

func parseExpenseQuery(w http.ResponseWriter, q url.Values) (service.ExpenseQuery, bool) {
	var query service.ExpenseQuery
	for _, bound := range []struct {
		name string
		dst  **model.Date
	}{
		{"from", &query.From},
		{"to", &query.To},
	} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			invalidArgument(w, "%s: %s must be a YYYY-MM-DD date", model.ErrInvalidArgument, bound.name)
			return service.ExpenseQuery{}, false
		}
		*bound.dst = &d
	}
	query.Category = q.Get("category")
	return query, true
}
