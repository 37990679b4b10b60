// README: Common value types shared across modules.
package types

// ID identifies an entity (order, wallet, rider, relay node).
type ID string

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
