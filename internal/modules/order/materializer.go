// README: Relay leg materializer; plans hops, routes legs, splits payouts.
package order

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"relaydispatch/internal/config"
	"relaydispatch/internal/geo"
	"relaydispatch/internal/maps"
	"relaydispatch/internal/modules/activity"
	"relaydispatch/internal/modules/relaynode"
	"relaydispatch/internal/types"
)

// NodeDirectory supplies the active relay-node set.
type NodeDirectory interface {
	ActiveNodes(ctx context.Context) ([]relaynode.Node, error)
}

// HopPlanner builds the hop chain; nil means "cannot route within constraints".
type HopPlanner interface {
	BuildHops(pickup, dropoff types.Point, nodes []relaynode.Node, maxLegKm float64, maxHops int) []relaynode.Node
}

// RouteSource resolves real leg metrics with a guaranteed pure fallback.
type RouteSource interface {
	LegsFor(ctx context.Context, origin types.Point, points []types.Point) []maps.LegMetric
	EstimateLegsHaversine(origin types.Point, points []types.Point) []maps.LegMetric
}

// Materializer drives the pending -> ready|failed routing transition for
// relay orders inside one row-locked transaction per run.
type Materializer struct {
	store    Store
	nodes    NodeDirectory
	planner  HopPlanner
	routes   RouteSource
	geocoder maps.Geocoder
	feed     activity.Sink
	cfg      config.RoutingConfig
	log      *zap.Logger
}

// NewMaterializer accepts a nil geocoder: orders without stored coordinates
// then fail their run with a configuration message instead of routing.
func NewMaterializer(
	store Store,
	nodes NodeDirectory,
	planner HopPlanner,
	routes RouteSource,
	geocoder maps.Geocoder,
	feed activity.Sink,
	cfg config.RoutingConfig,
	log *zap.Logger,
) *Materializer {
	return &Materializer{
		store:    store,
		nodes:    nodes,
		planner:  planner,
		routes:   routes,
		geocoder: geocoder,
		feed:     feed,
		cfg:      cfg,
		log:      log,
	}
}

// routeFailure is a terminal validation/invariant failure: the run commits
// routing_status=failed with the message and reports via the activity feed.
type routeFailure struct {
	msg string
}

func (f routeFailure) Error() string { return f.msg }

type runResult struct {
	skipped    bool
	legCount   int
	distanceKm float64
	rider      *types.ID
}

// MaterializeRelayLegs recomputes the relay legs of one order. It is
// idempotent: reruns replace the leg set wholesale. Returns false without
// mutation for non-relay orders; true when the order ends ready.
func (m *Materializer) MaterializeRelayLegs(ctx context.Context, orderID types.ID, force bool) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("relay materialization panic: %v", r)
			m.failBestEffort(ctx, orderID, err.Error())
			ok = false
		}
	}()

	var res runResult
	var failMsg string

	err = m.store.WithLockedOrder(ctx, orderID, func(ctx context.Context, tx Tx, o *Order) error {
		if !o.IsRelayOrder {
			res.skipped = true
			return nil
		}
		if o.RoutingStatus == RoutingReady && !force {
			res.skipped = true
			res.legCount = o.RelayLegsCount
			return nil
		}

		runErr := m.run(ctx, tx, o, &res)
		if f, isFailure := runErr.(routeFailure); isFailure {
			failMsg = f.msg
			o.RoutingStatus = RoutingFailed
			o.RoutingError = f.msg
			return tx.UpdateRouting(ctx, o)
		}
		return runErr
	})

	if err != nil {
		// Unexpected error: the transaction rolled back, but the order must
		// still end in a terminal, queryable state.
		m.failBestEffort(ctx, orderID, err.Error())
		return false, err
	}
	if failMsg != "" {
		m.feed.Emit(ctx, activity.Event{
			Type:    activity.TypeRelayRouteFailed,
			OrderID: orderID,
			Message: failMsg,
			Color:   "red",
		})
		return false, nil
	}
	if res.skipped {
		return res.legCount > 0, nil
	}

	meta := map[string]string{
		"legs":        fmt.Sprintf("%d", res.legCount),
		"distance_km": fmt.Sprintf("%.2f", res.distanceKm),
	}
	if res.rider != nil {
		meta["suggested_rider"] = string(*res.rider)
	}
	m.feed.Emit(ctx, activity.Event{
		Type:     activity.TypeRelayRouteReady,
		OrderID:  orderID,
		Message:  fmt.Sprintf("Relay route ready: %d legs, %.1f km", res.legCount, res.distanceKm),
		Color:    "green",
		Metadata: meta,
	})
	return true, nil
}

func (m *Materializer) run(ctx context.Context, tx Tx, o *Order, res *runResult) error {
	delivery, err := tx.FirstDelivery(ctx, o.ID)
	if err != nil {
		return err
	}
	if delivery == nil {
		return routeFailure{msg: "No delivery dropoff found for this order"}
	}

	pickup, err := m.resolvePoint(ctx, o.PickupPoint, o.PickupAddress, "pickup")
	if err != nil {
		return err
	}
	dropoff, err := m.resolvePoint(ctx, delivery.DropoffPoint, delivery.DropoffAddress, "dropoff")
	if err != nil {
		return err
	}

	nodes, err := m.nodes.ActiveNodes(ctx)
	if err != nil {
		return err
	}

	// Two-pass planning: the loose cap first; tightening the cap changes
	// which nodes are eligible and can succeed where the greedy choices
	// dead-ended.
	hops := m.planner.BuildHops(pickup, dropoff, nodes, m.cfg.MaxLegKmEstimate, m.cfg.MaxHops)
	if hops == nil {
		hops = m.planner.BuildHops(pickup, dropoff, nodes, m.cfg.RetryLegKmEstimate, m.cfg.MaxHops)
	}
	if hops == nil {
		return routeFailure{msg: fmt.Sprintf(
			"No feasible relay chain within %.0f km legs", m.cfg.MaxLegKmEstimate)}
	}

	points := make([]types.Point, 0, len(hops)+1)
	for _, h := range hops {
		points = append(points, h.Position)
	}
	points = append(points, dropoff)

	legMetrics := m.routes.LegsFor(ctx, pickup, points)
	if legMetrics == nil {
		legMetrics = m.routes.EstimateLegsHaversine(pickup, points)
	}

	for i, lm := range legMetrics {
		if lm.DistanceKm > m.cfg.MaxLegKmRouted {
			return routeFailure{msg: fmt.Sprintf(
				"Leg %d routed distance %.1f km exceeds the %.0f km cap",
				i+1, lm.DistanceKm, m.cfg.MaxLegKmRouted)}
		}
	}

	legs := buildLegs(o, hops, legMetrics, m.cfg.PayoutPoolShare)
	if err := tx.ReplaceLegs(ctx, o.ID, legs); err != nil {
		return err
	}
	if err := tx.UpdateDeliveryCoords(ctx, delivery.ID, dropoff); err != nil {
		return err
	}

	totalKm := 0.0
	totalMin := 0
	for _, l := range legs {
		totalKm += l.DistanceKm
		totalMin += l.DurationMinutes
	}

	rider := m.suggestRider(ctx, pickup)

	o.RoutingStatus = RoutingReady
	o.RoutingError = ""
	o.DistanceKm = totalKm
	o.DurationMinutes = totalMin
	o.RelayLegsCount = len(legs)
	o.SuggestedRiderID = rider
	if err := tx.UpdateRouting(ctx, o); err != nil {
		return err
	}

	res.legCount = len(legs)
	res.distanceKm = totalKm
	res.rider = rider
	return nil
}

func (m *Materializer) resolvePoint(ctx context.Context, stored *types.Point, address, kind string) (types.Point, error) {
	if stored != nil {
		return *stored, nil
	}
	if m.geocoder == nil {
		return types.Point{}, routeFailure{msg: fmt.Sprintf(
			"Cannot resolve %s coordinates: geocoding is not configured", kind)}
	}
	p, err := m.geocoder.Geocode(ctx, address)
	if err != nil {
		return types.Point{}, routeFailure{msg: fmt.Sprintf(
			"Failed to geocode %s address %q: %v", kind, address, err)}
	}
	return p, nil
}

// buildLegs numbers the legs 1..N, threads the hop nodes through start/end
// references (leg 1 starts at pickup, the last leg ends at the dropoff), and
// splits the payout pool by distance.
func buildLegs(o *Order, hops []relaynode.Node, metrics []maps.LegMetric, poolShare float64) []Leg {
	totalKm := 0.0
	for _, lm := range metrics {
		totalKm += lm.DistanceKm
	}
	pool := o.TotalAmount.Mul(decimal.NewFromFloat(poolShare))

	legs := make([]Leg, 0, len(metrics))
	for i, lm := range metrics {
		var start, end *types.ID
		if i > 0 {
			id := hops[i-1].ID
			start = &id
		}
		if i < len(hops) {
			id := hops[i].ID
			end = &id
		}

		payout := decimal.Zero
		if totalKm > 0 {
			payout = pool.
				Mul(decimal.NewFromFloat(lm.DistanceKm)).
				Div(decimal.NewFromFloat(totalKm)).
				Round(2)
		}

		legs = append(legs, Leg{
			OrderID:         o.ID,
			LegNumber:       i + 1,
			StartNodeID:     start,
			EndNodeID:       end,
			DistanceKm:      lm.DistanceKm,
			DurationMinutes: lm.DurationMinutes,
			RiderPayout:     payout,
			HandoffPIN:      newHandoffPIN(),
		})
	}
	return legs
}

// suggestRider scans at most RiderScanLimit available riders and picks the
// nearest to pickup; ties break on lowest rider id (the scan is id-ordered,
// so the first minimum wins). Best-effort: scan errors only cost the hint.
func (m *Materializer) suggestRider(ctx context.Context, pickup types.Point) *types.ID {
	riders, err := m.store.AvailableRiders(ctx, m.cfg.RiderScanLimit)
	if err != nil {
		m.log.Warn("rider scan failed", zap.Error(err))
		return nil
	}

	var best *types.ID
	bestDist := 0.0
	for _, r := range riders {
		if r.Position == nil {
			continue
		}
		d := geo.DistanceKm(pickup, *r.Position)
		if best == nil || d < bestDist {
			id := r.ID
			best = &id
			bestDist = d
		}
	}
	return best
}

func (m *Materializer) failBestEffort(ctx context.Context, orderID types.ID, msg string) {
	if err := m.store.MarkRoutingFailed(ctx, orderID, msg); err != nil {
		m.log.Error("failed to mark order routing as failed",
			zap.String("order_id", string(orderID)), zap.Error(err))
	}
	m.feed.Emit(ctx, activity.Event{
		Type:    activity.TypeRelayRouteFailed,
		OrderID: orderID,
		Message: msg,
		Color:   "red",
	})
}

func newHandoffPIN() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "000000"
	}
	return fmt.Sprintf("%06d", n.Int64())
}
