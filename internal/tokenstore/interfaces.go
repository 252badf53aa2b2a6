package tokenstore

import "context"

// TokenStore reads and writes a provider API key to persistent storage.
type TokenStore interface {
	// Read returns the stored key. Returns error if it is missing or empty.
	Read(ctx context.Context) (string, error)

	// Write persists the key to storage. Returns error if storage backend
	// is read-only (e.g., environment variables) or if write operation fails.
	Write(ctx context.Context, token string) error
}
