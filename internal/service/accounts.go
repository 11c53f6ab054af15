package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
	"github.com/tallyhq/tally/internal/retry"
)

// maxKeyWriteAttempts bounds how often a key is redrawn when the unique
// index rejects it at write time.
const maxKeyWriteAttempts = 3

// RegisterInput defines input for creating an account.
type RegisterInput struct {
	Email    string
	Name     string
	Password string
}

// Registration is the result of a successful registration.
// APIKey is the only time the plaintext key is available.
type Registration struct {
	UserID string
	APIKey string
}

// Register creates a user and issues their first API key.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*Registration, error) {
	email, err := model.NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	name, err := model.NormalizeName(input.Name)
	if err != nil {
		return nil, err
	}

	cred, err := s.newCredential(ctx, input.Password)
	if err != nil {
		return nil, s.mapError(ctx, "register", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:        ulid.Make().String(),
		Email:     email,
		Name:      name,
		Password:  cred,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key, err := s.writeNewKey(ctx, func(ctx context.Context, key *auth.GeneratedKey) error {
		user.APIKeyHash = key.Hash
		user.APIKeyPrefix = key.Prefix
		user.APIKeyIssuedAt = now
		return s.do(ctx, func(ctx context.Context) error {
			return s.createUser(ctx, user)
		})
	})
	if err != nil {
		return nil, s.mapError(ctx, "register", err)
	}

	s.metrics.IncUserRegistered()
	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("key_prefix", key.Prefix),
	)
	return &Registration{UserID: user.ID, APIKey: key.Plaintext}, nil
}

// createUser inserts user. An email conflict with a row carrying the same
// id means an earlier attempt committed before its reply was lost.
func (s *Service) createUser(ctx context.Context, user *model.User) error {
	err := s.users.CreateUser(ctx, user)
	if !errors.Is(err, repository.ErrEmailExists) {
		return err
	}
	existing, lookupErr := s.users.GetUserByEmail(ctx, user.Email)
	switch {
	case lookupErr == nil && existing.ID == user.ID:
		return nil
	case lookupErr != nil && isTransient(lookupErr):
		return lookupErr
	}
	return ErrDuplicateEmail
}

// writeNewKey issues a fresh key and hands it to write, drawing another
// key if the store reports a digest collision.
func (s *Service) writeNewKey(ctx context.Context, write func(ctx context.Context, key *auth.GeneratedKey) error) (*auth.GeneratedKey, error) {
	for attempt := 0; attempt < maxKeyWriteAttempts; attempt++ {
		key, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*auth.GeneratedKey, error) {
			return s.issuer.Issue(ctx)
		})
		if err != nil {
			return nil, err
		}

		err = write(ctx, key)
		if errors.Is(err, repository.ErrAPIKeyExists) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return key, nil
	}
	return nil, auth.ErrKeyCollision
}

// RegenerateAPIKey replaces the caller's key. The presented key stops
// working in the same write that makes the new one live. Of two concurrent
// regenerations with the same key exactly one succeeds.
func (s *Service) RegenerateAPIKey(ctx context.Context, apiKey string) (string, error) {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return "", err
	}

	oldHash := auth.DigestAPIKey(apiKey)
	key, err := s.writeNewKey(ctx, func(ctx context.Context, key *auth.GeneratedKey) error {
		return s.do(ctx, func(ctx context.Context) error {
			return s.users.UpdateAPIKey(ctx, id.UserID(), oldHash, key.Credential(s.now().UTC()))
		})
	})
	if err != nil {
		return "", s.mapError(ctx, "regenerate api key", err)
	}

	s.metrics.IncAPIKeyRotated()
	s.logger.InfoContext(ctx, "api key regenerated",
		slog.String("user_id", id.UserID()),
		slog.String("key_prefix", key.Prefix),
	)
	return key.Plaintext, nil
}

// RecoverAPIKey issues a new key to a user who proves their password.
// The previous key, whatever it was, stops working. Unknown emails and
// wrong passwords fail identically and take comparable time.
func (s *Service) RecoverAPIKey(ctx context.Context, email, password string) (string, error) {
	user, err := s.verifyPassword(ctx, email, password)
	if err != nil {
		return "", err
	}

	key, err := s.writeNewKey(ctx, func(ctx context.Context, key *auth.GeneratedKey) error {
		return s.do(ctx, func(ctx context.Context) error {
			return s.users.UpdateAPIKey(ctx, user.ID, "", key.Credential(s.now().UTC()))
		})
	})
	if err != nil {
		return "", s.mapError(ctx, "recover api key", err)
	}

	s.metrics.IncAPIKeyRotated()
	s.logger.InfoContext(ctx, "api key recovered",
		slog.String("user_id", user.ID),
		slog.String("key_prefix", key.Prefix),
	)
	return key.Plaintext, nil
}

// verifyPassword loads the user by email and checks password.
func (s *Service) verifyPassword(ctx context.Context, email, password string) (*model.User, error) {
	normalized, err := model.NormalizeEmail(email)
	if err != nil {
		s.hasher.BurnVerification(ctx, password)
		return nil, ErrUnauthenticated
	}

	user, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.User, error) {
		return s.users.GetUserByEmail(ctx, normalized)
	})
	if errors.Is(err, repository.ErrUserNotFound) {
		s.hasher.BurnVerification(ctx, password)
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, s.mapError(ctx, "verify password", err)
	}

	if err := s.checkPassword(ctx, user, password); err != nil {
		return nil, err
	}
	return user, nil
}

// checkPassword verifies password against user's stored credential and
// upgrades the stored hash when its parameters are out of date.
func (s *Service) checkPassword(ctx context.Context, user *model.User, password string) error {
	ok, err := s.hasher.VerifyCredential(ctx, password, user.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnsupportedAlgorithm) || errors.Is(err, auth.ErrInvalidParams) {
			s.logger.ErrorContext(ctx, "stored password parameters unusable",
				slog.String("user_id", user.ID),
				slog.String("algorithm", user.Password.Algorithm),
			)
			return ErrUnauthenticated
		}
		return s.mapError(ctx, "verify password", err)
	}
	if !ok {
		s.logger.WarnContext(ctx, "password verification failed", slog.String("user_id", user.ID))
		return ErrUnauthenticated
	}

	if s.hasher.NeedsRehash(user.Password) {
		s.rehash(ctx, user, password)
	}
	return nil
}

// rehash stores password under the current parameters. Failure is logged
// and otherwise ignored; the old hash keeps working.
func (s *Service) rehash(ctx context.Context, user *model.User, password string) {
	cred, err := s.newCredential(ctx, password)
	if err == nil {
		err = s.do(ctx, func(ctx context.Context) error {
			return s.users.UpdatePassword(ctx, user.ID, cred)
		})
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	user.Password = cred
	s.logger.InfoContext(ctx, "password rehashed",
		slog.String("user_id", user.ID),
		slog.String("algorithm", cred.Algorithm),
	)
}

// Account returns the caller's profile. Secrets are never serialized.
func (s *Service) Account(ctx context.Context, apiKey string) (*model.User, error) {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return s.loadUser(ctx, id)
}

func (s *Service) loadUser(ctx context.Context, id auth.Identity) (*model.User, error) {
	user, err := retry.Value(ctx, s.retry, func(ctx context.Context) (*model.User, error) {
		return s.users.GetUserByID(ctx, id.UserID())
	})
	if err != nil {
		return nil, s.mapError(ctx, "load user", err)
	}
	return user, nil
}

// ChangePassword replaces the caller's password after checking the current
// one. The API key is left unchanged.
func (s *Service) ChangePassword(ctx context.Context, apiKey, current, next string) error {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return err
	}
	if err := auth.ValidatePassword(next); err != nil {
		return err
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkPassword(ctx, user, current); err != nil {
		return err
	}

	cred, err := s.newCredential(ctx, next)
	if err != nil {
		return s.mapError(ctx, "change password", err)
	}
	err = s.do(ctx, func(ctx context.Context) error {
		return s.users.UpdatePassword(ctx, id.UserID(), cred)
	})
	if err != nil {
		return s.mapError(ctx, "change password", err)
	}

	s.logger.InfoContext(ctx, "password changed", slog.String("user_id", id.UserID()))
	return nil
}

// DeleteAccount removes the caller, their key and all their expenses.
func (s *Service) DeleteAccount(ctx context.Context, apiKey, password string) error {
	id, err := s.authenticate(ctx, apiKey)
	if err != nil {
		return err
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkPassword(ctx, user, password); err != nil {
		return err
	}

	err = s.do(ctx, func(ctx context.Context) error {
		return s.users.DeleteUser(ctx, id.UserID())
	})
	if err != nil {
		return s.mapError(ctx, "delete account", err)
	}

	s.logger.InfoContext(ctx, "account deleted", slog.String("user_id", id.UserID()))
	return nil
}
