// README: Greedy hop planner over the active relay-node network.
package routing

import (
	"relaydispatch/internal/geo"
	"relaydispatch/internal/modules/relaynode"
	"relaydispatch/internal/types"
)

const (
	// corridorFactor bounds candidates to nodes whose pickup->node->dropoff
	// detour stays within 60% of the direct distance.
	defaultCorridorFactor = 1.6
	// minProgressKm is the forward-progress guard: a hop must shrink the
	// remaining distance by at least this much or it is rejected.
	minProgressKm = 1.0
)

// Planner produces hop chains bounded by a per-leg distance cap.
type Planner struct {
	corridorFactor float64
}

func NewPlanner(corridorFactor float64) *Planner {
	if corridorFactor <= 1.0 {
		corridorFactor = defaultCorridorFactor
	}
	return &Planner{corridorFactor: corridorFactor}
}

// BuildHops returns an ordered chain of relay nodes such that no consecutive
// hop exceeds maxLegKm (by haversine estimate), or nil when no chain exists
// within the constraints. nil means "cannot route", not a transient error.
//
// Each accepted hop shrinks the remaining distance by at least minProgressKm
// and maxHops caps the loop, so termination is guaranteed.
func (p *Planner) BuildHops(pickup, dropoff types.Point, nodes []relaynode.Node, maxLegKm float64, maxHops int) []relaynode.Node {
	direct := geo.DistanceKm(pickup, dropoff)
	if direct <= maxLegKm {
		return []relaynode.Node{}
	}

	// Corridor filter: keep only nodes not wildly off the direct path.
	candidates := make([]relaynode.Node, 0, len(nodes))
	for _, n := range nodes {
		detour := geo.DistanceKm(pickup, n.Position) + geo.DistanceKm(n.Position, dropoff)
		if detour <= direct*p.corridorFactor {
			candidates = append(candidates, n)
		}
	}

	var hops []relaynode.Node
	current := pickup
	remaining := direct
	used := make(map[types.ID]bool)

	for remaining > maxLegKm {
		if len(hops) >= maxHops {
			return nil
		}

		bestIdx := -1
		bestRemaining := remaining - minProgressKm
		for i, n := range candidates {
			if used[n.ID] {
				continue
			}
			if geo.DistanceKm(current, n.Position) > maxLegKm {
				continue
			}
			r := geo.DistanceKm(n.Position, dropoff)
			if r < bestRemaining {
				bestRemaining = r
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			return nil
		}

		chosen := candidates[bestIdx]
		used[chosen.ID] = true
		hops = append(hops, chosen)
		current = chosen.Position
		remaining = bestRemaining
	}

	return hops
}
