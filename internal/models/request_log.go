package models

import (
	"fmt"
	"time"
)

// RequestLog is one admitted request. Rows are written once and never updated.
type RequestLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	IP        *string   `gorm:"type:varchar(45);index" json:"ip"`
	Path      string    `gorm:"type:varchar(255);not null;index" json:"path"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	Country   *string   `gorm:"type:varchar(100)" json:"country"`
	City      *string   `gorm:"type:varchar(100)" json:"city"`
}

func (RequestLog) TableName() string {
	return "request_log"
}

func (l RequestLog) String() string {
	ip := "-"
	if l.IP != nil {
		ip = *l.IP
	}
	return fmt.Sprintf("[%s] %s - %s", l.Timestamp.Format("2006-01-02 15:04:05"), ip, l.Path)
}
