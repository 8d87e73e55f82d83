package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sdko-org/traffic-guard/internal/models"
)

type Blocklist struct {
	db  *gorm.DB
	now func() time.Time
}

func NewBlocklist(db *gorm.DB) *Blocklist {
	return &Blocklist{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListIPs returns every blocked address.
func (b *Blocklist) ListIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := b.db.WithContext(ctx).Model(&models.BlockedIP{}).Pluck("ip", &ips).Error
	return ips, wrap("list blocked ips", err)
}

func (b *Blocklist) List(ctx context.Context) ([]models.BlockedIP, error) {
	var entries []models.BlockedIP
	err := b.db.WithContext(ctx).Order("created_at DESC").Find(&entries).Error
	return entries, wrap("list blocked entries", err)
}

// Block creates the entry when absent and otherwise overwrites only its
// reason. created reports which of the two happened.
func (b *Blocklist) Block(ctx context.Context, ip, reason string) (created bool, err error) {
	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.BlockedIP
		findErr := tx.Where("ip = ?", ip).Take(&existing).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			created = true
			return tx.Create(&models.BlockedIP{IP: ip, Reason: reason, CreatedAt: b.now()}).Error
		case findErr != nil:
			return findErr
		default:
			return tx.Model(&existing).Update("reason", reason).Error
		}
	})
	if err != nil {
		return false, wrap("block ip", err)
	}
	return created, nil
}

// Unblock removes an address. It reports whether a row existed.
func (b *Blocklist) Unblock(ctx context.Context, ip string) (bool, error) {
	res := b.db.WithContext(ctx).Where("ip = ?", ip).Delete(&models.BlockedIP{})
	if res.Error != nil {
		return false, wrap("unblock ip", res.Error)
	}
	return res.RowsAffected > 0, nil
}
