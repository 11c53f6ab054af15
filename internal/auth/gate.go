package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
)

// ErrUnauthenticated is returned for every rejected key, whether it was
// missing, malformed or unknown.
var ErrUnauthenticated = errors.New("invalid or missing API key")

// Identity is proof that a caller presented a live API key.
// It carries only the user id and can only be produced by this package.
type Identity struct {
	userID string
}

// UserID returns the authenticated user's id.
func (i Identity) UserID() string {
	return i.userID
}

// IsZero reports whether the identity was never issued by a Gate.
func (i Identity) IsZero() bool {
	return i.userID == ""
}

// UserLookup resolves a stored key digest to its user.
type UserLookup interface {
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*model.User, error)
}

// Gate authenticates presented API keys.
type Gate struct {
	users  UserLookup
	logger *slog.Logger
}

// NewGate creates a Gate backed by users.
func NewGate(users UserLookup, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{users: users, logger: logger}
}

// Authenticate resolves presentedKey to an Identity.
// Empty and malformed keys are rejected without a store read.
// Infrastructure failures are returned wrapped, not as ErrUnauthenticated.
func (g *Gate) Authenticate(ctx context.Context, presentedKey string) (Identity, error) {
	if presentedKey == "" {
		g.logger.WarnContext(ctx, "authentication failed", slog.String("reason", "missing_key"))
		return Identity{}, ErrUnauthenticated
	}

	parsed, err := ParseAPIKey(presentedKey)
	if err != nil {
		g.logger.WarnContext(ctx, "authentication failed", slog.String("reason", "invalid_format"))
		return Identity{}, ErrUnauthenticated
	}

	user, err := g.users.GetUserByAPIKeyHash(ctx, DigestAPIKey(presentedKey))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			g.logger.WarnContext(ctx, "authentication failed",
				slog.String("reason", "invalid_key"),
				slog.String("key_prefix", parsed.Prefix()),
			)
			return Identity{}, ErrUnauthenticated
		}
		return Identity{}, fmt.Errorf("lookup api key: %w", err)
	}

	g.logger.DebugContext(ctx, "authentication successful",
		slog.String("user_id", user.ID),
		slog.String("key_prefix", user.APIKeyPrefix),
	)
	return Identity{userID: user.ID}, nil
}
