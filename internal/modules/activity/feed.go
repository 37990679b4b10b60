// README: Append-only activity feed with best-effort redis fan-out.
package activity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"relaydispatch/internal/types"
)

const (
	TypeRelayRouteReady  = "relay_route_ready"
	TypeRelayRouteFailed = "relay_route_failed"
	TypeEscrowHeld       = "escrow_held"
	TypeEscrowReleased   = "escrow_released"
	TypeEscrowRefunded   = "escrow_refunded"
)

// publishChannel is the optional realtime fan-out channel.
const publishChannel = "activity.events"

// Event is one audit-trail row. The feed is the only cross-system
// notification mechanism in scope.
type Event struct {
	Type     string            `json:"type"`
	OrderID  types.ID          `json:"order_id"`
	Message  string            `json:"message"`
	Color    string            `json:"color"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// Sink receives events; failures must never propagate to callers.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Feed persists events and fans them out over redis pub/sub. Both writes are
// fire-and-forget: errors are logged and swallowed so a feed outage can
// never roll back committed routing or ledger state.
type Feed struct {
	db    *pgxpool.Pool
	redis *redis.Client
	log   *zap.Logger
}

// NewFeed accepts a nil redis client; fan-out is then skipped entirely.
func NewFeed(db *pgxpool.Pool, redis *redis.Client, log *zap.Logger) *Feed {
	return &Feed{db: db, redis: redis, log: log}
}

func (f *Feed) Emit(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		meta = []byte("{}")
	}
	_, err = f.db.Exec(ctx, `
		INSERT INTO activity_events (event_type, order_id, message, color, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Type, string(e.OrderID), e.Message, e.Color, meta, e.At)
	if err != nil {
		f.log.Error("activity feed append failed",
			zap.String("type", e.Type),
			zap.String("order_id", string(e.OrderID)),
			zap.Error(err))
	}

	if f.redis == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := f.redis.Publish(ctx, publishChannel, payload).Err(); err != nil {
		f.log.Warn("activity fan-out failed", zap.Error(err))
	}
}
