package dto

import (
	"time"

	"github.com/tallyhq/tally/internal/model"
)

// RegisterRequest is the body of POST /v1/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
}

// RegisterResponse returns the new user's id and their only copy of the key.
type RegisterResponse struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

// RecoverKeyRequest is the body of POST /v1/api-key/recover.
type RecoverKeyRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// APIKeyResponse carries a freshly issued key.
type APIKeyResponse struct {
	APIKey string `json:"api_key"`
}

// ChangePasswordRequest is the body of PUT /v1/account/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// DeleteAccountRequest is the body of DELETE /v1/account.
type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// AccountResponse is the caller's profile.
type AccountResponse struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	APIKeyPrefix   string    `json:"api_key_prefix"`
	APIKeyIssuedAt time.Time `json:"api_key_issued_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToAccountResponse converts a User model to AccountResponse.
func ToAccountResponse(user *model.User) *AccountResponse {
	return &AccountResponse{
		ID:             user.ID,
		Email:          user.Email,
		Name:           user.Name,
		APIKeyPrefix:   user.APIKeyPrefix,
		APIKeyIssuedAt: user.APIKeyIssuedAt,
		CreatedAt:      user.CreatedAt,
	}
}
