// Package auth defines the credential lookup contract used to resolve an
// authenticated account identity.
package auth

import "context"

// APIKeyInfo holds the account data behind a validated API key. The key id
// doubles as the account id for order and cart ownership.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
