package report

import (
	"context"
	"fmt"
	"time"
)

type Policy string

const (
	PolicyHighVolume    Policy = "high_volume"
	PolicySensitivePath Policy = "sensitive_path"
)

// Flag is one newly inserted suspicious-ip entry.
type Flag struct {
	IP     string `json:"ip"`
	Policy Policy `json:"policy"`
	Count  int64  `json:"count"`
	Reason string `json:"reason"`
}

// Report summarises a single detector run.
type Report struct {
	RunID       string    `json:"run_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Flags       []Flag    `json:"flags"`
}

type Sink interface {
	Publish(ctx context.Context, r Report) error
}

// Key places reports under prefix/YYYY/MM/DD/<run id>.json.
func (r Report) Key(prefix string) string {
	return fmt.Sprintf("%s/%s/%s.json", prefix, r.WindowEnd.UTC().Format("2006/01/02"), r.RunID)
}
