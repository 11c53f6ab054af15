package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/tally/internal/model"
)

const sqliteUserColumns = `id, email, name, password_hash, password_salt, hash_algorithm, hash_iterations,
	api_key_hash, api_key_prefix, api_key_issued_at, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (s *SQLite) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (` + sqliteUserColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Password.Hash,
		user.Password.Salt,
		user.Password.Algorithm,
		user.Password.Iterations,
		user.APIKeyHash,
		user.APIKeyPrefix,
		formatTime(user.APIKeyIssuedAt),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	if err != nil {
		if column, ok := sqliteUniqueConstraint(err); ok {
			return uniqueUserError(column)
		}
		return sqliteError("failed to create user", err)
	}
	return nil
}

// GetUserByID retrieves a user by their ID.
func (s *SQLite) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by their normalized email address.
func (s *SQLite) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUserByAPIKeyHash retrieves the user owning the live key with this digest.
func (s *SQLite) GetUserByAPIKeyHash(ctx context.Context, hash string) (*model.User, error) {
	return s.getUser(ctx, "api_key_hash", hash)
}

func (s *SQLite) getUser(ctx context.Context, column, value string) (*model.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users WHERE ` + column + ` = ?`

	var (
		user                           model.User
		issuedAt, createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Password.Hash,
		&user.Password.Salt,
		&user.Password.Algorithm,
		&user.Password.Iterations,
		&user.APIKeyHash,
		&user.APIKeyPrefix,
		&issuedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, sqliteError(fmt.Sprintf("failed to get user by %s", column), err)
	}

	if user.APIKeyIssuedAt, err = parseTime(issuedAt); err != nil {
		return nil, fmt.Errorf("failed to parse api_key_issued_at: %w", err)
	}
	if user.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if user.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &user, nil
}

// APIKeyHashExists reports whether any user holds a key with this digest.
func (s *SQLite) APIKeyHashExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE api_key_hash = ?)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, sqliteError("failed to check api key", err)
	}
	return exists, nil
}

// UpdateAPIKey swaps the user's key digest in a single statement.
func (s *SQLite) UpdateAPIKey(ctx context.Context, userID, oldHash string, key model.APIKeyCredential) error {
	query := `
		UPDATE users
		SET api_key_hash = ?, api_key_prefix = ?, api_key_issued_at = ?, updated_at = ?
		WHERE id = ? AND (? = '' OR api_key_hash = ?)
	`

	issuedAt := formatTime(key.IssuedAt)
	result, err := s.db.ExecContext(ctx, query,
		key.Hash, key.Prefix, issuedAt, issuedAt,
		userID, oldHash, oldHash,
	)
	if err != nil {
		if column, ok := sqliteUniqueConstraint(err); ok {
			return uniqueUserError(column)
		}
		return sqliteError("failed to update api key", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// UpdatePassword stores a new password credential.
func (s *SQLite) UpdatePassword(ctx context.Context, userID string, cred model.PasswordCredential) error {
	query := `
		UPDATE users
		SET password_hash = ?, password_salt = ?, hash_algorithm = ?, hash_iterations = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		cred.Hash, cred.Salt, cred.Algorithm, cred.Iterations, formatTime(time.Now()), userID,
	)
	if err != nil {
		return sqliteError("failed to update password", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// DeleteUser removes a user and, by cascade, their expenses.
func (s *SQLite) DeleteUser(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return sqliteError("failed to delete user", err)
	}
	return requireRow(result, ErrUserNotFound)
}

// requireRow returns notFound when result touched no rows.
func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
