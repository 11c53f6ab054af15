package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tallyhq/tally/internal/model"
)

// Key format: tk_{env}_{secret}
// Example: tk_live_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	KeySecretBytes   = 32 // 256 bits of entropy
	KeySecretLen     = KeySecretBytes * 2
	KeyDisplayPrefix = 8 // Leading secret chars kept for logs and display
)

// Environment indicators for key prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

// maxIssueAttempts bounds retries when a generated key collides.
const maxIssueAttempts = 3

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrKeyCollision indicates no unique key could be generated.
	ErrKeyCollision = errors.New("could not generate a unique API key")

	keyFormatRegex = regexp.MustCompile(`^tk_(live|test)_([a-f0-9]{64})$`)
)

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // Full key (show once only)
	Hash      string // SHA-256 digest for storage and lookup
	Prefix    string // Visible prefix of the secret
}

// Credential returns the storable form of the key issued at now.
func (k *GeneratedKey) Credential(now time.Time) model.APIKeyCredential {
	return model.APIKeyCredential{
		Hash:     k.Hash,
		Prefix:   k.Prefix,
		IssuedAt: now,
	}
}

// GenerateAPIKey creates a new API key with the specified environment.
func GenerateAPIKey(env string) (*GeneratedKey, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	secretBytes := make([]byte, KeySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)
	plaintext := fmt.Sprintf("tk_%s_%s", env, secret)

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      DigestAPIKey(plaintext),
		Prefix:    secret[:KeyDisplayPrefix],
	}, nil
}

// ParsedKey contains the parsed parts of an API key.
type ParsedKey struct {
	Env    string
	Secret string
}

// Prefix returns the display prefix of the key.
func (p *ParsedKey) Prefix() string {
	return p.Secret[:KeyDisplayPrefix]
}

// ParseAPIKey extracts the components from a plaintext API key.
func ParseAPIKey(key string) (*ParsedKey, error) {
	matches := keyFormatRegex.FindStringSubmatch(key)
	if matches == nil {
		return nil, ErrInvalidKeyFormat
	}
	return &ParsedKey{Env: matches[1], Secret: matches[2]}, nil
}

// ValidateKeyFormat checks if the key matches the expected format.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}

// DigestAPIKey returns the hex SHA-256 digest under which a key is stored.
// Keys carry 256 random bits, so a fast hash is sufficient and keeps the
// lookup a single indexed read.
func DigestAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// QuickHash returns a short digest of the input for cache keys.
// This is NOT for credential storage, only for cache key derivation.
func QuickHash(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// KeyChecker reports whether a key digest is already stored.
type KeyChecker interface {
	APIKeyHashExists(ctx context.Context, hash string) (bool, error)
}

// Issuer generates API keys that are not yet in use.
type Issuer struct {
	env      string
	checker  KeyChecker
	generate func(env string) (*GeneratedKey, error)
}

// NewIssuer creates an Issuer for env that checks candidates against checker.
func NewIssuer(env string, checker KeyChecker) *Issuer {
	return &Issuer{
		env:      env,
		checker:  checker,
		generate: GenerateAPIKey,
	}
}

// Issue returns a key whose digest is not currently stored.
// A colliding candidate is discarded and another drawn, up to a small bound.
// The store's unique index remains the final arbiter at write time.
func (i *Issuer) Issue(ctx context.Context) (*GeneratedKey, error) {
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		key, err := i.generate(i.env)
		if err != nil {
			return nil, err
		}

		exists, err := i.checker.APIKeyHashExists(ctx, key.Hash)
		if err != nil {
			return nil, fmt.Errorf("check api key uniqueness: %w", err)
		}
		if !exists {
			return key, nil
		}
	}
	return nil, ErrKeyCollision
}
