// README: Google Maps wrapper for geocoding and multi-waypoint directions.
package maps

import (
	"context"
	"fmt"
	"math"
	"time"

	"googlemaps.github.io/maps"

	"relaydispatch/internal/types"
)

// LegMetric is the routed distance and duration of one consecutive pair in
// a waypoint chain.
type LegMetric struct {
	DistanceKm      float64
	DurationMinutes int
}

// Geocoder resolves a street address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// Directions returns per-leg metrics for an ordered waypoint chain.
type Directions interface {
	DirectionsLegs(ctx context.Context, origin types.Point, points []types.Point) ([]LegMetric, error)
}

// Client wraps the Google Maps API for both interfaces.
type Client struct {
	client  *maps.Client
	timeout time.Duration
}

// NewClient creates a Client with the given API key. The timeout bounds each
// outbound call so a slow provider cannot hang the enclosing transaction.
func NewClient(apiKey string, timeout time.Duration) (*Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &Client{client: client, timeout: timeout}, nil
}

// Geocode resolves an address to a coordinate pair.
func (c *Client) Geocode(ctx context.Context, address string) (types.Point, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results, err := c.client.Geocode(ctx, &maps.GeocodingRequest{Address: address})
	if err != nil {
		return types.Point{}, fmt.Errorf("geocode api error: %w", err)
	}
	if len(results) == 0 {
		return types.Point{}, fmt.Errorf("no geocode result for %q", address)
	}
	loc := results[0].Geometry.Location
	return types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// DirectionsLegs routes origin through the ordered points (the last point is
// the destination) and returns one metric per consecutive pair. It assumes
// driving mode.
func (c *Client) DirectionsLegs(ctx context.Context, origin types.Point, points []types.Point) ([]LegMetric, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("directions require at least one point")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dest := points[len(points)-1]
	waypoints := make([]string, 0, len(points)-1)
	for _, p := range points[:len(points)-1] {
		waypoints = append(waypoints, formatPoint(p))
	}

	r := &maps.DirectionsRequest{
		Origin:      formatPoint(origin),
		Destination: formatPoint(dest),
		Waypoints:   waypoints,
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := c.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("directions api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, fmt.Errorf("no route found")
	}

	legs := make([]LegMetric, 0, len(routes[0].Legs))
	for _, leg := range routes[0].Legs {
		legs = append(legs, LegMetric{
			DistanceKm:      float64(leg.Distance.Meters) / 1000.0,
			DurationMinutes: int(math.Round(leg.Duration.Minutes())),
		})
	}
	return legs, nil
}

func formatPoint(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
