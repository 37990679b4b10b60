// README: Relay node and zone definitions.
package relaynode

import (
	"relaydispatch/internal/types"
)

// Node is a fixed handoff point where a package transfers between riders.
// Owned by the operations team; never deleted by order flows.
type Node struct {
	ID                types.ID   `json:"id"`
	Name              string     `json:"name"`
	Address           string     `json:"address"`
	Position          types.Point `json:"position"`
	ZoneID            *types.ID  `json:"zone_id,omitempty"`
	CatchmentRadiusKm float64    `json:"catchment_radius_km"`
	IsActive          bool       `json:"is_active"`
}

// Zone is a named region used to group nodes and rider home areas. It is a
// label only; routing math never reads it.
type Zone struct {
	ID       types.ID    `json:"id"`
	Name     string      `json:"name"`
	Center   types.Point `json:"center"`
	RadiusKm float64     `json:"radius_km"`
}
