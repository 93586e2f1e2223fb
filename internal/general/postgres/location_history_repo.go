package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/ports"
)

const insertLocationHistory = `
	INSERT INTO location_history (entity_id, entity_type, latitude, longitude, seq, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

// LocationHistoryRepo appends archived positions to location_history.
type LocationHistoryRepo struct{}

func NewLocationHistoryRepo() ports.LocationHistoryRepository {
	return &LocationHistoryRepo{}
}

// ArchiveBatch inserts records in one round trip. It must run inside
// UnitOfWork.WithinTx; any invalid record fails the whole batch before
// anything is sent.
func (repo *LocationHistoryRepo) ArchiveBatch(ctx context.Context, records []*geo.LocationHistory) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("location history for %s: %w", rec.EntityID, err)
		}
		batch.Queue(insertLocationHistory,
			rec.EntityID,
			rec.EntityType.String(),
			rec.Latitude,
			rec.Longitude,
			int64(rec.Seq),
			rec.RecordedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, rec := range records {
		if err := results.QueryRow().Scan(&rec.ID); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert location history for %s: %w", rec.EntityID, err)
		}
	}
	return results.Close()
}
