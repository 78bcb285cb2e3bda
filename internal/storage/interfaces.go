package storage

import (
	"context"

	"sol-beast/internal/domain"
)

// KV is the persistence surface the state store writes through.
// Values are opaque text. No transactional guarantees are assumed.
type KV interface {
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// DetectionArchive is an append-only history of every recorded detection.
// The state store only keeps a bounded window; the archive keeps everything.
type DetectionArchive interface {
	Append(ctx context.Context, token domain.DetectedToken) error
}

// validKey rejects keys no backend can store.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return false
		}
	}
	return true
}

// ValidateKey returns ErrInvalidInput for empty or NUL-containing keys.
func ValidateKey(key string) error {
	if !validKey(key) {
		return ErrInvalidInput
	}
	return nil
}
