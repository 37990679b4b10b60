// README: Relay node store backed by PostgreSQL.
package relaynode

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"relaydispatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ListActive(ctx context.Context) ([]Node, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, address, latitude, longitude, zone_id, catchment_radius_km, is_active
		FROM relay_nodes
		WHERE is_active = TRUE
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var zoneID *string
		if err := rows.Scan(
			&n.ID, &n.Name, &n.Address,
			&n.Position.Lat, &n.Position.Lng,
			&zoneID, &n.CatchmentRadiusKm, &n.IsActive,
		); err != nil {
			return nil, err
		}
		if zoneID != nil {
			z := types.ID(*zoneID)
			n.ZoneID = &z
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
