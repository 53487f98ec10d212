// Package cache provides the key-value store used for classification and
// enrichment results. Every entry carries an explicit TTL.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	// GetJSON decodes the value at key into out. It reports false on a miss.
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
