package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var heartbeatColumns = []string{
	"website_id", "last_seen_ms", "country", "country_code", "region",
	"city", "lat", "lon", "device", "os", "browser",
}

// GormStore keeps presence entries in SQLite.
type GormStore struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewGormStore creates a presence tracker backed by the given database manager.
func NewGormStore(dbManager cartridge.DBManager, logger *slog.Logger) *GormStore {
	return &GormStore{dbManager: dbManager, logger: logger}
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

func (s *GormStore) Heartbeat(ctx context.Context, e Entry) error {
	// Mirrors shouldReplace: the update is skipped for an older heartbeat on the same site.
	upsert := clause.OnConflict{
		Columns:   []clause.Column{{Name: "visitor_id"}},
		DoUpdates: clause.AssignmentColumns(heartbeatColumns),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("(excluded.website_id <> presence_entries.website_id OR excluded.last_seen_ms >= presence_entries.last_seen_ms)"),
		}},
	}

	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		return tx.Clauses(upsert).Create(&e).Error
	})
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

func (s *GormStore) ListActive(ctx context.Context, websiteID string, nowMs int64, window time.Duration) ([]Entry, error) {
	var entries []Entry
	err := s.db(ctx).
		Where("website_id = ? AND last_seen_ms > ?", websiteID, nowMs-windowMillis(window)).
		Order("last_seen_ms DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active visitors: %w", err)
	}
	return entries, nil
}

func (s *GormStore) DeleteByWebsite(ctx context.Context, websiteID string) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		result := tx.Where("website_id = ?", websiteID).Delete(&Entry{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete presence for website %s: %w", websiteID, err)
	}
	return deleted, nil
}

var _ Tracker = (*GormStore)(nil)
