package paramcache

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL bounds how long fitted parameters stay interesting.
const DefaultTTL = 60 * time.Minute

// Params holds the fitted parameters of the last successful model run
// for one entity. Advisory only: the engine never reads them back to
// produce a forecast, they exist for inspection and debugging.
type Params struct {
	EntityID string             `json:"entityId"`
	Strategy string             `json:"strategy"`
	Values   map[string]float64 `json:"values"`
	FittedAt time.Time          `json:"fittedAt"`
}

// Store persists fitted parameters keyed by entity id. Implementations
// are last-write-wins: a fresher fit replaces an older one.
type Store interface {
	// Get retrieves stored parameters by entity id. Returns nil if not found.
	Get(ctx context.Context, entityID string) (*Params, error)

	// Set stores parameters with TTL.
	Set(ctx context.Context, entityID string, p Params, ttl time.Duration) error

	// Close releases resources
	Close() error
}

func cacheKey(entityID string) string {
	return fmt.Sprintf("fcst:params:%s", entityID)
}
