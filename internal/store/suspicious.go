package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sdko-org/traffic-guard/internal/models"
)

type Suspicious struct {
	db *gorm.DB
}

func NewSuspicious(db *gorm.DB) *Suspicious {
	return &Suspicious{db: db}
}

// FlagIfAbsent inserts a flag unless the ip is already flagged, in which case
// the stored row is left exactly as it was.
func (s *Suspicious) FlagIfAbsent(ctx context.Context, ip, reason string, at time.Time) (bool, error) {
	entry := models.SuspiciousIP{IP: ip, Reason: reason, FlaggedAt: at}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return false, wrap("flag suspicious ip", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Suspicious) Get(ctx context.Context, ip string) (*models.SuspiciousIP, error) {
	var entry models.SuspiciousIP
	if err := s.db.WithContext(ctx).Where("ip = ?", ip).Take(&entry).Error; err != nil {
		return nil, wrap("get suspicious ip", err)
	}
	return &entry, nil
}

func (s *Suspicious) List(ctx context.Context) ([]models.SuspiciousIP, error) {
	var entries []models.SuspiciousIP
	err := s.db.WithContext(ctx).Order("flagged_at DESC").Find(&entries).Error
	return entries, wrap("list suspicious ips", err)
}
