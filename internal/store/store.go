package store

import (
	"context"
	"time"
)

// CounterStore is a windowed counter used for rate limiting. The in-memory
// implementation serves a single instance; the redis implementation lets
// several instances share state without touching call sites.
type CounterStore interface {
	// Incr bumps the counter for key within the window and returns the new
	// count. A fresh window resets the count to 1.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}
