// Package testutil holds helpers shared by unit and integration tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tallyhq/tally/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema removes all rows from the application tables.
// Expenses are removed by the users cascade.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE users CASCADE"); err != nil {
		return fmt.Errorf("truncate users: %w", err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ============================================================================
// Test Data Factories
// ============================================================================

var seq atomic.Int64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// NewTestUser creates a user with placeholder credentials.
// The key digest is unique per call so rows never collide.
func NewTestUser(t testing.TB, email string) *model.User {
	t.Helper()
	now := time.Now().UTC()
	id := UniqueID("user")
	digest := sha256.Sum256([]byte(id))
	return &model.User{
		ID:    id,
		Email: email,
		Password: model.PasswordCredential{
			Hash:       []byte("hash"),
			Salt:       []byte("salt"),
			Algorithm:  "pbkdf2-sha256",
			Iterations: 1000,
		},
		APIKeyHash:     hex.EncodeToString(digest[:]),
		APIKeyPrefix:   "deadbeef",
		APIKeyIssuedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewTestExpense creates an expense for ownerID on date (YYYY-MM-DD).
func NewTestExpense(t testing.TB, ownerID, category string, amount model.Amount, date string) *model.Expense {
	t.Helper()
	d, err := model.ParseDate(date)
	if err != nil {
		t.Fatalf("parse date %q: %v", date, err)
	}
	return &model.Expense{
		ID:        UniqueID("exp"),
		OwnerID:   ownerID,
		Amount:    amount,
		Category:  category,
		Date:      d,
		CreatedAt: time.Now().UTC(),
	}
}
