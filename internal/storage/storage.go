// Package storage defines the key-value store that persists session tokens
// across reloads and portal restarts.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// TokenKey is the storage key holding the token of one browser.
func TokenKey(browserID string) string {
	return fmt.Sprintf("portal:browser:%s:token", browserID)
}
