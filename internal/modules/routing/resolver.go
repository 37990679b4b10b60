// README: Route resolver over the directions provider with haversine fallback.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"relaydispatch/internal/cache"
	"relaydispatch/internal/geo"
	"relaydispatch/internal/maps"
	"relaydispatch/internal/types"
)

// Resolver turns an ordered waypoint chain into per-leg distance/duration
// metrics, preferring real routed values and degrading to pure estimates.
type Resolver struct {
	directions maps.Directions
	cache      cache.Cache
	ttl        time.Duration
	log        *zap.Logger
}

// NewResolver accepts a nil directions provider: every LegsFor call then
// reports "unavailable" and callers use the haversine fallback.
func NewResolver(directions maps.Directions, c cache.Cache, ttl time.Duration, log *zap.Logger) *Resolver {
	return &Resolver{directions: directions, cache: c, ttl: ttl, log: log}
}

// LegsFor returns one metric per consecutive pair of the chain, or nil when
// the provider is unconfigured or fails. nil is "use the fallback", never a
// fatal condition. Successful results are cached by the exact coordinate
// chain; a cache failure only skips caching.
func (r *Resolver) LegsFor(ctx context.Context, origin types.Point, points []types.Point) []maps.LegMetric {
	if r.directions == nil || len(points) == 0 {
		return nil
	}

	key := chainKey(origin, points)
	if raw, ok, err := r.cache.Get(ctx, key); err != nil {
		r.log.Warn("route cache read failed", zap.Error(err))
	} else if ok {
		var legs []maps.LegMetric
		if err := json.Unmarshal([]byte(raw), &legs); err == nil && len(legs) == len(points) {
			return legs
		}
	}

	legs, err := r.directions.DirectionsLegs(ctx, origin, points)
	if err != nil {
		r.log.Warn("directions provider failed, falling back", zap.Error(err))
		return nil
	}
	if len(legs) != len(points) {
		r.log.Warn("directions returned unexpected leg count",
			zap.Int("got", len(legs)), zap.Int("want", len(points)))
		return nil
	}

	if raw, err := json.Marshal(legs); err == nil {
		if err := r.cache.Set(ctx, key, string(raw), r.ttl); err != nil {
			r.log.Warn("route cache write failed", zap.Error(err))
		}
	}
	return legs
}

// EstimateLegsHaversine is the pure fallback: great-circle distance per pair
// and the heuristic ETA. Always returns exactly len(points) legs.
func (r *Resolver) EstimateLegsHaversine(origin types.Point, points []types.Point) []maps.LegMetric {
	legs := make([]maps.LegMetric, 0, len(points))
	current := origin
	for _, p := range points {
		d := geo.DistanceKm(current, p)
		legs = append(legs, maps.LegMetric{
			DistanceKm:      d,
			DurationMinutes: geo.EstimateEtaMinutes(d),
		})
		current = p
	}
	return legs
}

func chainKey(origin types.Point, points []types.Point) string {
	var b strings.Builder
	b.WriteString("route:legs:")
	b.WriteString(fmt.Sprintf("%.6f,%.6f", origin.Lat, origin.Lng))
	for _, p := range points {
		b.WriteString(fmt.Sprintf("|%.6f,%.6f", p.Lat, p.Lng))
	}
	return b.String()
}
