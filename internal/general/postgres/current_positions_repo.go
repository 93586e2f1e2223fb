package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/ports"
)

// CurrentPositionsRepo reads the `coordinates` rows flagged as current.
type CurrentPositionsRepo struct {
	pool       *pgxpool.Pool
	entityType geo.EntityType
}

func NewCurrentPositionsRepo(pool *pgxpool.Pool, entityType geo.EntityType) ports.CurrentPositionsRepository {
	return &CurrentPositionsRepo{pool: pool, entityType: entityType}
}

// LoadCurrent returns the last known position of every entity of the
// configured type. Rows that fail validation are skipped.
func (repo *CurrentPositionsRepo) LoadCurrent(ctx context.Context) (map[fleet.EntityID]geo.Position, error) {
	rows, err := repo.pool.Query(ctx, `
		SELECT id, entity_id, entity_type, latitude, longitude, updated_at
		FROM coordinates
		WHERE is_current = true AND entity_type = $1
		ORDER BY updated_at`,
		repo.entityType.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query current coordinates: %w", err)
	}
	defer rows.Close()

	out := make(map[fleet.EntityID]geo.Position)
	for rows.Next() {
		c := geo.Coordinate{IsCurrent: true}
		var entityType string
		if err := rows.Scan(&c.ID, &c.EntityID, &entityType, &c.Latitude, &c.Longitude, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan coordinate: %w", err)
		}
		c.EntityType = geo.EntityType(entityType)
		if c.Validate() != nil {
			continue
		}
		out[fleet.EntityID(c.EntityID)] = c.Position()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coordinates: %w", err)
	}
	return out, nil
}
