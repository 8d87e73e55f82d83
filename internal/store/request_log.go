package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sdko-org/traffic-guard/internal/models"
)

type IPCount struct {
	IP    string
	Count int64
}

type IPPathCount struct {
	IP    string
	Path  string
	Count int64
}

type RequestLogs struct {
	db *gorm.DB
}

func NewRequestLogs(db *gorm.DB) *RequestLogs {
	return &RequestLogs{db: db}
}

func (r *RequestLogs) Create(ctx context.Context, entry *models.RequestLog) error {
	return wrap("create request log", r.db.WithContext(ctx).Create(entry).Error)
}

// Recent returns the newest entries first.
func (r *RequestLogs) Recent(ctx context.Context, limit int) ([]models.RequestLog, error) {
	var entries []models.RequestLog
	err := r.db.WithContext(ctx).Order("timestamp DESC").Limit(limit).Find(&entries).Error
	return entries, wrap("recent request logs", err)
}

// CountByIP groups entries with timestamp in (from, to] by non-null ip.
func (r *RequestLogs) CountByIP(ctx context.Context, from, to time.Time) ([]IPCount, error) {
	var rows []IPCount
	err := r.window(ctx, from, to).
		Select("ip, COUNT(*) AS count").
		Group("ip").
		Scan(&rows).Error
	return rows, wrap("count requests by ip", err)
}

// CountByIPAndPath groups entries with timestamp in (from, to] and a path in
// paths by (ip, path).
func (r *RequestLogs) CountByIPAndPath(ctx context.Context, from, to time.Time, paths []string) ([]IPPathCount, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	var rows []IPPathCount
	err := r.window(ctx, from, to).
		Where("path IN ?", paths).
		Select("ip, path, COUNT(*) AS count").
		Group("ip, path").
		Scan(&rows).Error
	return rows, wrap("count requests by ip and path", err)
}

func (r *RequestLogs) window(ctx context.Context, from, to time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("ip IS NOT NULL").
		Where("timestamp > ? AND timestamp <= ?", from, to)
}
