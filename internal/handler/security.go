package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/xenking/freshcart/internal/domain/auth"
	"github.com/xenking/freshcart/internal/domain/identity"
)

// Header names the identity middleware consumes.
const (
	headerAPIKey       = "Authorization"
	headerSessionToken = "X-Session-Token"
)

type identityKey struct{}

// IdentityFromContext extracts the resolved identity from the context.
func IdentityFromContext(ctx context.Context) (identity.Key, bool) {
	k, ok := ctx.Value(identityKey{}).(identity.Key)
	return k, ok
}

// Security resolves the per-request identity: an authenticated account via
// HMAC-hashed API key, or a guest via an opaque session token.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security guard with the given API key repository and
// HMAC pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// RequireIdentity authenticates the request and stores the identity in the
// context. A bearer API key resolves to a user identity; otherwise a session
// token resolves to a guest. Requests carrying neither are rejected before
// any component operation runs.
func (s *Security) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key, ok := bearerToken(r); ok {
			info, err := s.authenticate(r.Context(), key)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}
			ctx := context.WithValue(r.Context(), identityKey{}, identity.User(info.ID))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if token := r.Header.Get(headerSessionToken); isValidSessionToken(token) {
			ctx := context.WithValue(r.Context(), identityKey{}, identity.Guest(token))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
	})
}

// authenticate computes the HMAC-SHA256 of the presented key, looks it up,
// and performs a constant-time comparison against the stored hash.
func (s *Security) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, err
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, errUnauthorized
	}

	return info, nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get(headerAPIKey)
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):], true
	}
	return "", false
}

// isValidSessionToken checks that the token is non-empty, at most 128 bytes,
// and printable ASCII.
func isValidSessionToken(token string) bool {
	if len(token) == 0 || len(token) > 128 {
		return false
	}
	for i := range len(token) {
		if token[i] < 0x21 || token[i] > 0x7E {
			return false
		}
	}
	return true
}
