// README: Read-through directory of active relay nodes with a TTL cache.
package relaynode

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"relaydispatch/internal/cache"
)

const cacheKey = "relaynode:active"

// Lister is the persistence dependency of the directory.
type Lister interface {
	ListActive(ctx context.Context) ([]Node, error)
}

// Directory serves the active node set from a cached snapshot. The cache key
// is global (node count is tens, not thousands) and concurrent cold misses
// may each issue a redundant read; reads are idempotent so that is accepted.
type Directory struct {
	store Lister
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewDirectory(store Lister, c cache.Cache, ttl time.Duration, log *zap.Logger) *Directory {
	return &Directory{store: store, cache: c, ttl: ttl, log: log}
}

// ActiveNodes returns all nodes with is_active = true. Cache failures are
// logged and degrade to a live read, never an error.
func (d *Directory) ActiveNodes(ctx context.Context) ([]Node, error) {
	if raw, ok, err := d.cache.Get(ctx, cacheKey); err != nil {
		d.log.Warn("node cache read failed", zap.Error(err))
	} else if ok {
		var nodes []Node
		if err := json.Unmarshal([]byte(raw), &nodes); err == nil {
			return nodes, nil
		}
		d.log.Warn("node cache snapshot corrupt, refetching")
	}

	nodes, err := d.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(nodes); err == nil {
		if err := d.cache.Set(ctx, cacheKey, string(raw), d.ttl); err != nil {
			d.log.Warn("node cache write failed", zap.Error(err))
		}
	}
	return nodes, nil
}
