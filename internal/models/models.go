package models

import (
	"time"
)

// BlockedIP is managed by operators. The gate only ever reads the ip column.
type BlockedIP struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	IP        string    `gorm:"type:varchar(45);uniqueIndex;not null" json:"ip"`
	Reason    string    `gorm:"type:text;not null" json:"reason"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// SuspiciousIP is written by the anomaly detector. The first reason recorded
// for an ip is kept forever.
type SuspiciousIP struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	IP        string    `gorm:"type:varchar(45);uniqueIndex;not null" json:"ip"`
	Reason    string    `gorm:"type:text;not null" json:"reason"`
	FlaggedAt time.Time `gorm:"index;not null" json:"flagged_at"`
}

func (BlockedIP) TableName() string {
	return "blocked_ip"
}

func (SuspiciousIP) TableName() string {
	return "suspicious_ip"
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&RequestLog{}, &BlockedIP{}, &SuspiciousIP{}}
}
