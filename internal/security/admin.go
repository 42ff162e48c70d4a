package security

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// AdminKeyHeader carries the shared secret on write requests.
const AdminKeyHeader = "x-admin-key"

var (
	// ErrUnauthorized indicates a missing or mismatched admin key.
	ErrUnauthorized = errors.New("security: unauthorized")
	// ErrMisconfigured indicates no admin key was configured, so writes are refused.
	ErrMisconfigured = errors.New("security: admin key not configured")
)

// AdminKey verifies the shared write secret.
type AdminKey struct {
	key []byte
}

// NewAdminKey wraps the configured secret. An empty secret rejects every request.
func NewAdminKey(key string) *AdminKey {
	return &AdminKey{key: []byte(strings.TrimSpace(key))}
}

// Check compares got to the configured key in constant time.
func (a *AdminKey) Check(got string) error {
	if len(a.key) == 0 {
		return ErrMisconfigured
	}
	got = strings.TrimSpace(got)
	if got == "" || subtle.ConstantTimeCompare([]byte(got), a.key) != 1 {
		return ErrUnauthorized
	}
	return nil
}
