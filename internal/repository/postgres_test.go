package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestPgErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		transient  bool
		foreignKey bool
	}{
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "expenses_owner_id_fkey"}, false, true},
		{"wrapped foreign key", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), false, true},
		{"unique", &pgconn.PgError{Code: "23505"}, false, false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, false},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true, false},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true, false},
		{"plain error", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, isPgTransient(tt.err))
			assert.Equal(t, tt.foreignKey, isPgForeignKey(tt.err))
		})
	}
}

func TestPgUniqueConstraint(t *testing.T) {
	name, ok := pgUniqueConstraint(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
	assert.True(t, ok)
	assert.Equal(t, "users_email_key", name)

	_, ok = pgUniqueConstraint(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)
}
