package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tallyhq/tally/internal/model"
)

const pgUserColumns = `id, email, name, password_hash, password_salt, hash_algorithm, hash_iterations,
	api_key_hash, api_key_prefix, api_key_issued_at, created_at, updated_at`

// CreateUser inserts a new user into the database.
func (p *Postgres) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (` + pgUserColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := p.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Password.Hash,
		user.Password.Salt,
		user.Password.Algorithm,
		user.Password.Iterations,
		user.APIKeyHash,
		user.APIKeyPrefix,
		user.APIKeyIssuedAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := pgUniqueConstraint(err); ok {
			return uniqueUserError(constraint)
		}
		return pgError("failed to create user", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (p *Postgres) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return p.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by their normalized email address.
func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.getUser(ctx, "email", email)
}

// GetUserByAPIKeyHash retrieves the user owning the live key with this digest.
func (p *Postgres) GetUserByAPIKeyHash(ctx context.Context, hash string) (*model.User, error) {
	return p.getUser(ctx, "api_key_hash", hash)
}

func (p *Postgres) getUser(ctx context.Context, column, value string) (*model.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users WHERE ` + column + ` = $1`

	var user model.User
	err := p.pool.QueryRow(ctx, query, value).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Password.Hash,
		&user.Password.Salt,
		&user.Password.Algorithm,
		&user.Password.Iterations,
		&user.APIKeyHash,
		&user.APIKeyPrefix,
		&user.APIKeyIssuedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, pgError(fmt.Sprintf("failed to get user by %s", column), err)
	}

	return &user, nil
}

// APIKeyHashExists reports whether any user holds a key with this digest.
func (p *Postgres) APIKeyHashExists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE api_key_hash = $1)`, hash,
	).Scan(&exists)
	if err != nil {
		return false, pgError("failed to check api key", err)
	}
	return exists, nil
}

// UpdateAPIKey swaps the user's key digest in a single statement.
func (p *Postgres) UpdateAPIKey(ctx context.Context, userID, oldHash string, key model.APIKeyCredential) error {
	query := `
		UPDATE users
		SET api_key_hash = $3, api_key_prefix = $4, api_key_issued_at = $5, updated_at = $5
		WHERE id = $1 AND ($2 = '' OR api_key_hash = $2)
	`

	tag, err := p.pool.Exec(ctx, query, userID, oldHash, key.Hash, key.Prefix, key.IssuedAt)
	if err != nil {
		if constraint, ok := pgUniqueConstraint(err); ok {
			return uniqueUserError(constraint)
		}
		return pgError("failed to update api key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdatePassword stores a new password credential.
func (p *Postgres) UpdatePassword(ctx context.Context, userID string, cred model.PasswordCredential) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_salt = $3, hash_algorithm = $4, hash_iterations = $5, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := p.pool.Exec(ctx, query, userID, cred.Hash, cred.Salt, cred.Algorithm, cred.Iterations)
	if err != nil {
		return pgError("failed to update password", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user and, by cascade, their expenses.
func (p *Postgres) DeleteUser(ctx context.Context, userID string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return pgError("failed to delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// uniqueUserError maps a violated users constraint to its sentinel.
func uniqueUserError(constraint string) error {
	switch {
	case constraint == "users_api_key_hash_key", constraint == "users.api_key_hash":
		return ErrAPIKeyExists
	default:
		return ErrEmailExists
	}
}
