// Package auth provides password hashing, API key issuance and the
// authentication gate that turns a presented key into an Identity.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/semaphore"

	"github.com/tallyhq/tally/internal/model"
)

// Supported password derivation algorithms.
const (
	AlgorithmPBKDF2   = "pbkdf2-sha256"
	AlgorithmArgon2id = "argon2id"
)

const (
	// DefaultPBKDF2Iterations follows OWASP 2023 guidance for PBKDF2-HMAC-SHA256.
	DefaultPBKDF2Iterations = 600_000
	// DefaultArgon2Time is the Argon2id time cost used for new hashes.
	DefaultArgon2Time = 3

	minPBKDF2Iterations = 1_000

	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4

	hashLen = 32
	saltLen = 16

	minPasswordLength = 8
	maxPasswordLength = 128
)

var (
	// ErrWeakPassword indicates the password does not meet the policy.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrUnsupportedAlgorithm indicates stored parameters name an unknown algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported password hash algorithm")
	// ErrInvalidParams indicates the iteration count is out of range.
	ErrInvalidParams = errors.New("invalid password hash parameters")
)

// Params are the per-record derivation parameters.
type Params struct {
	Algorithm  string
	Iterations int
}

// DefaultParams returns the parameters used for new registrations.
func DefaultParams() Params {
	return Params{Algorithm: AlgorithmPBKDF2, Iterations: DefaultPBKDF2Iterations}
}

// Validate checks the algorithm is known and the cost is usable.
func (p Params) Validate() error {
	switch p.Algorithm {
	case AlgorithmPBKDF2:
		if p.Iterations < minPBKDF2Iterations {
			return fmt.Errorf("%w: pbkdf2 needs at least %d iterations", ErrInvalidParams, minPBKDF2Iterations)
		}
	case AlgorithmArgon2id:
		if p.Iterations < 1 || p.Iterations > 1<<16 {
			return fmt.Errorf("%w: argon2id time cost out of range", ErrInvalidParams)
		}
	default:
		return ErrUnsupportedAlgorithm
	}
	return nil
}

// ValidatePassword enforces the password policy before any hashing.
func ValidatePassword(password string) error {
	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("%w: password is empty", ErrWeakPassword)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrWeakPassword, maxPasswordLength)
	}
	return nil
}

// Hasher derives and verifies password hashes.
// Derivations are CPU bound, so the number running at once is capped.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
}

// NewHasher creates a Hasher producing hashes with params.
// concurrency caps simultaneous derivations; values below 1 mean 1.
func NewHasher(params Params, concurrency int) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Hasher{
		params: params,
		sem:    semaphore.NewWeighted(int64(concurrency)),
	}, nil
}

// Params returns the parameters applied to new hashes.
func (h *Hasher) Params() Params {
	return h.params
}

// NewCredential validates password, draws a fresh salt and derives a hash
// with the current parameters.
func (h *Hasher) NewCredential(ctx context.Context, password string) (model.PasswordCredential, error) {
	if err := ValidatePassword(password); err != nil {
		return model.PasswordCredential{}, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return model.PasswordCredential{}, fmt.Errorf("generate salt: %w", err)
	}

	hash, err := h.Hash(ctx, password, salt, h.params)
	if err != nil {
		return model.PasswordCredential{}, err
	}

	return model.PasswordCredential{
		Hash:       hash,
		Salt:       salt,
		Algorithm:  h.params.Algorithm,
		Iterations: h.params.Iterations,
	}, nil
}

// Hash derives a hash of password with salt and params.
func (h *Hasher) Hash(ctx context.Context, password string, salt []byte, params Params) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: password is empty", ErrWeakPassword)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)

	return derive(password, salt, params), nil
}

// Verify reports whether password matches expected.
// The full derivation always runs and the final comparison is constant-time,
// so the running time does not depend on where a mismatch occurs.
func (h *Hasher) Verify(ctx context.Context, password string, salt []byte, params Params, expected []byte) (bool, error) {
	if password == "" {
		return false, nil
	}
	computed, err := h.Hash(ctx, password, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// VerifyCredential checks password against a stored credential.
func (h *Hasher) VerifyCredential(ctx context.Context, password string, cred model.PasswordCredential) (bool, error) {
	return h.Verify(ctx, password, cred.Salt, Params{Algorithm: cred.Algorithm, Iterations: cred.Iterations}, cred.Hash)
}

// NeedsRehash reports whether a stored credential is weaker than the
// parameters used for new hashes.
func (h *Hasher) NeedsRehash(cred model.PasswordCredential) bool {
	if cred.Algorithm != h.params.Algorithm {
		return true
	}
	return cred.Iterations < h.params.Iterations
}

// BurnVerification runs one derivation with throwaway input. It is used when
// no stored credential exists, so unknown accounts cost the same as known ones.
func (h *Hasher) BurnVerification(ctx context.Context, password string) {
	salt := sha256.Sum256([]byte("tally-dummy-salt"))
	_, _ = h.Hash(ctx, password+"x", salt[:saltLen], h.params)
}

func derive(password string, salt []byte, params Params) []byte {
	switch params.Algorithm {
	case AlgorithmArgon2id:
		return argon2.IDKey([]byte(password), salt, uint32(params.Iterations), argon2Memory, argon2Threads, hashLen)
	default:
		return pbkdf2.Key([]byte(password), salt, params.Iterations, hashLen, sha256.New)
	}
}
