package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"webtrack/internal/events"
)

// canonicalEntry mirrors events.ToMillis in SQL.
var canonicalEntry = fmt.Sprintf(
	"(CASE WHEN entry_time_ms < %d THEN entry_time_ms * 1000 ELSE entry_time_ms END)",
	events.SecondsThreshold,
)

// GormStore persists sessions in SQLite. Writes go through sqlite.PerformWrite,
// which runs them in IMMEDIATE transactions and retries on SQLITE_BUSY.
type GormStore struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewGormStore creates a session store backed by the given database manager.
func NewGormStore(dbManager cartridge.DBManager, logger *slog.Logger) *GormStore {
	return &GormStore{dbManager: dbManager, logger: logger}
}

func (s *GormStore) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

func (s *GormStore) Create(ctx context.Context, session *Session) error {
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		return tx.Create(session).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *GormStore) Close(ctx context.Context, visitorID, websiteID string, exit ExitFields) (bool, error) {
	updates := map[string]interface{}{
		"exit_time_ms":         exit.ExitTimeMs,
		"total_active_time_ms": exit.TotalActiveTimeMs,
		"exit_url":             nil,
	}
	if exit.ExitURL != "" {
		updates["exit_url"] = exit.ExitURL
	}

	var affected int64
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		var newest Session
		found := tx.Select("id").
			Where("visitor_id = ? AND website_id = ? AND exit_time_ms IS NULL", visitorID, websiteID).
			Order("id DESC").
			Limit(1).
			Find(&newest)
		if found.Error != nil {
			return found.Error
		}
		if found.RowsAffected == 0 {
			return nil
		}

		// The same exit already landed on a later session: a repeated
		// delivery, not the exit of an older visit.
		repeat := tx.Model(&Session{}).
			Where("visitor_id = ? AND website_id = ? AND id > ? AND exit_time_ms = ?", visitorID, websiteID, newest.ID, exit.ExitTimeMs)
		if exit.ExitURL == "" {
			repeat = repeat.Where("exit_url IS NULL")
		} else {
			repeat = repeat.Where("exit_url = ?", exit.ExitURL)
		}
		var repeats int64
		if err := repeat.Count(&repeats).Error; err != nil {
			return err
		}
		if repeats > 0 {
			return nil
		}

		result := tx.Model(&Session{}).Where("id = ? AND exit_time_ms IS NULL", newest.ID).Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to close session: %w", err)
	}
	return affected > 0, nil
}

func (s *GormStore) QueryByWebsite(ctx context.Context, websiteID string, r *Range) ([]Session, error) {
	query := s.db(ctx).Where("website_id = ?", websiteID)
	if r != nil {
		query = query.Where(canonicalEntry+" BETWEEN ? AND ?", r.FromMs, r.ToMs)
	}

	var rows []Session
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return rows, nil
}

func (s *GormStore) RecentIPs(ctx context.Context, websiteID string, limit int) ([]RecentIP, error) {
	var rows []Session
	err := s.db(ctx).
		Select("id", "ip", "country", "country_code", "region", "city", "entry_time_ms").
		Where("website_id = ?", websiteID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recent ips: %w", err)
	}
	return uniqueIPs(rows), nil
}

func (s *GormStore) DeleteByWebsite(ctx context.Context, websiteID string) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		result := tx.Where("website_id = ?", websiteID).Delete(&Session{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions for website %s: %w", websiteID, err)
	}
	return deleted, nil
}

func (s *GormStore) DeleteOlderThan(ctx context.Context, cutoffMs int64) (int64, error) {
	var deleted int64
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		result := tx.Where(canonicalEntry+" < ?", cutoffMs).Delete(&Session{})
		deleted = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return deleted, nil
}

var _ Store = (*GormStore)(nil)
