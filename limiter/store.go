package limiter

import "context"

// Store keeps per-key bucket state for rule-based limiting.
type Store interface {
	// Allow consumes one token from the bucket identified by key, creating a full
	// bucket on first use. The update must be atomic per key.
	// Returns true if the request is allowed.
	Allow(ctx context.Context, key string, b Bucket) (bool, error)
}
