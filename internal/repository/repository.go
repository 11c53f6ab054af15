// Package repository provides the database access layer: user credentials
// and expense rows, backed by PostgreSQL or SQLite.
package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tallyhq/tally/internal/model"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Common errors for repository operations.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEmailExists     = errors.New("email already exists")
	ErrAPIKeyExists    = errors.New("api key already exists")
	ErrExpenseNotFound = errors.New("expense not found")
	ErrInvalidCursor   = errors.New("invalid pagination cursor")
	// ErrUnavailable marks transient infrastructure failures that are safe to retry.
	ErrUnavailable = errors.New("database unavailable")
)

// UserRepository stores user credentials.
// Uniqueness of email and API key digest is enforced by the database itself.
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*model.User, error)
	APIKeyHashExists(ctx context.Context, hash string) (bool, error)
	// UpdateAPIKey replaces the user's key in one statement. When oldHash is
	// non-empty the update only applies while oldHash is still the live key;
	// otherwise ErrUserNotFound is returned.
	UpdateAPIKey(ctx context.Context, userID, oldHash string, key model.APIKeyCredential) error
	UpdatePassword(ctx context.Context, userID string, cred model.PasswordCredential) error
	// DeleteUser removes the user; expenses go with it by cascade.
	DeleteUser(ctx context.Context, userID string) error
}

// ExpenseRepository stores expense rows. Every method is keyed by owner id;
// callers outside the tenant package should not use it directly.
type ExpenseRepository interface {
	// CreateExpense returns ErrUserNotFound when the owner no longer exists.
	CreateExpense(ctx context.Context, expense *model.Expense) error
	ListExpenses(ctx context.Context, ownerID string, filter ExpenseFilter, cursor string, limit int) ([]*model.Expense, string, error)
	DeleteExpense(ctx context.Context, ownerID, id string) error
	SummarizeExpenses(ctx context.Context, ownerID string, filter ExpenseFilter) ([]model.CategoryTotal, error)
}

// Store is the complete persistence layer.
type Store interface {
	UserRepository
	ExpenseRepository
	Ping(ctx context.Context) error
	// SchemaVersion returns the applied migration version.
	SchemaVersion(ctx context.Context) (int64, error)
	Close() error
}

// ExpenseFilter restricts expense queries. Zero value matches everything.
type ExpenseFilter struct {
	Range      model.DateRange
	Categories []string
}

// ExpenseCursor is the keyset position after the last returned row.
type ExpenseCursor struct {
	Date string `json:"d"`
	ID   string `json:"id"`
}

// Open connects to the database named by driver and url and applies migrations.
func Open(ctx context.Context, driver, url string) (Store, error) {
	switch driver {
	case DriverPostgres:
		return NewPostgres(ctx, url)
	case DriverSQLite:
		return NewSQLite(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// encodeCursor encodes pagination cursor to base64.
func encodeCursor(expense *model.Expense) string {
	data, _ := json.Marshal(ExpenseCursor{Date: expense.Date.String(), ID: expense.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeCursor decodes base64 pagination cursor.
func decodeCursor(s string) (*ExpenseCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor ExpenseCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}
	if _, err := model.ParseDate(cursor.Date); err != nil || cursor.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &cursor, nil
}

// trimPage cuts the extra look-ahead row and derives the next cursor.
func trimPage(expenses []*model.Expense, limit int) ([]*model.Expense, string) {
	if len(expenses) <= limit {
		return expenses, ""
	}
	expenses = expenses[:limit]
	return expenses, encodeCursor(expenses[len(expenses)-1])
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
