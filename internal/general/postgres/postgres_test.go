package postgres

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/general/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Host = "db.internal"
	cfg.Database.Port = 5433
	cfg.Database.User = "tracker"
	cfg.Database.Password = "p@ss/word"
	cfg.Database.Name = "fleet"

	u, err := url.Parse(DSN(cfg))
	if err != nil {
		t.Fatalf("expected parseable DSN, got %v", err)
	}
	if u.Host != "db.internal:5433" || u.Path != "/fleet" {
		t.Fatalf("unexpected host/path %q %q", u.Host, u.Path)
	}
	if pw, _ := u.User.Password(); pw != "p@ss/word" {
		t.Fatalf("expected password round trip, got %q", pw)
	}
	if u.Query().Get("sslmode") != "disable" {
		t.Fatalf("expected sslmode=disable")
	}
}

func TestArchiveBatchRequiresTx(t *testing.T) {
	repo := NewLocationHistoryRepo()
	rec, err := geo.NewLocationHistory("drv-1", geo.EntityTypeDriver, geo.Position{Lat: 1, Lon: 2}, 1, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.ArchiveBatch(context.Background(), nil); err != nil {
		t.Fatalf("expected empty batch to be a no-op, got %v", err)
	}
	if err := repo.ArchiveBatch(context.Background(), []*geo.LocationHistory{rec}); !errors.Is(err, ErrNoTx) {
		t.Fatalf("expected ErrNoTx, got %v", err)
	}
}
