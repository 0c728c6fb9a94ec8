// Package identity defines the opaque key that scopes carts and orders to a
// guest session or an authenticated account.
package identity

import "strings"

// Key identifies the owner of a cart or order. Keys are namespaced so a guest
// session token can never collide with an account id.
type Key string

// Guest builds a Key for an anonymous session token.
func Guest(sessionToken string) Key {
	return Key("guest:" + sessionToken)
}

// User builds a Key for an authenticated account id.
func User(accountID string) Key {
	return Key("user:" + accountID)
}

// IsGuest reports whether the key belongs to an anonymous session.
func (k Key) IsGuest() bool {
	return strings.HasPrefix(string(k), "guest:")
}

// String returns the raw key value.
func (k Key) String() string {
	return string(k)
}
