// Package detector scans recent request logs and flags abusive addresses.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/traffic-guard/internal/report"
	"github.com/sdko-org/traffic-guard/internal/store"
)

type LogCounter interface {
	CountByIP(ctx context.Context, from, to time.Time) ([]store.IPCount, error)
	CountByIPAndPath(ctx context.Context, from, to time.Time, paths []string) ([]store.IPPathCount, error)
}

type Flagger interface {
	FlagIfAbsent(ctx context.Context, ip, reason string, at time.Time) (bool, error)
}

type Options struct {
	Window             time.Duration
	VolumeThreshold    int
	SensitiveThreshold int
	SensitivePaths     []string
	Now                func() time.Time
	// Sink receives a report for runs that inserted at least one flag.
	Sink report.Sink
}

type Detector struct {
	logs    LogCounter
	flagger Flagger
	opts    Options
	log     *logrus.Entry
}

func New(logger *logrus.Logger, logs LogCounter, flagger Flagger, opts Options) *Detector {
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.VolumeThreshold <= 0 {
		opts.VolumeThreshold = 100
	}
	if opts.SensitiveThreshold <= 0 {
		opts.SensitiveThreshold = 10
	}
	if len(opts.SensitivePaths) == 0 {
		opts.SensitivePaths = []string{"/admin", "/login"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Detector{
		logs:    logs,
		flagger: flagger,
		opts:    opts,
		log:     logger.WithField("component", "anomaly_detector"),
	}
}

// Run evaluates both policies over (now-window, now]. Existing flags are
// never modified, so overlapping or repeated runs are harmless.
func (d *Detector) Run(ctx context.Context) error {
	now := d.opts.Now().UTC()
	rep := report.Report{
		RunID:       uuid.NewString(),
		WindowStart: now.Add(-d.opts.Window),
		WindowEnd:   now,
	}
	log := d.log.WithField("run_id", rep.RunID)

	var errs []error
	if err := d.highVolume(ctx, log, &rep); err != nil {
		errs = append(errs, err)
	}
	if err := d.sensitivePaths(ctx, log, &rep); err != nil {
		errs = append(errs, err)
	}

	log.WithFields(logrus.Fields{
		"new_flags": len(rep.Flags),
		"errors":    len(errs),
	}).Info("Anomaly detection task completed")

	if len(rep.Flags) > 0 && d.opts.Sink != nil {
		if err := d.opts.Sink.Publish(ctx, rep); err != nil {
			log.WithError(err).Warn("Failed to publish detection report")
		}
	}

	return errors.Join(errs...)
}

func (d *Detector) highVolume(ctx context.Context, log *logrus.Entry, rep *report.Report) error {
	counts, err := d.logs.CountByIP(ctx, rep.WindowStart, rep.WindowEnd)
	if err != nil {
		return fmt.Errorf("high volume scan: %w", err)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].IP < counts[j].IP })

	var errs []error
	for _, c := range counts {
		if c.Count <= int64(d.opts.VolumeThreshold) {
			continue
		}
		reason := fmt.Sprintf("Exceeded high volume threshold (%d requests, limit %d) in %s.",
			c.Count, d.opts.VolumeThreshold, describeWindow(d.opts.Window))
		if err := d.flag(ctx, log, rep, report.Flag{
			IP: c.IP, Policy: report.PolicyHighVolume, Count: c.Count, Reason: reason,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Detector) sensitivePaths(ctx context.Context, log *logrus.Entry, rep *report.Report) error {
	rows, err := d.logs.CountByIPAndPath(ctx, rep.WindowStart, rep.WindowEnd, d.opts.SensitivePaths)
	if err != nil {
		return fmt.Errorf("sensitive path scan: %w", err)
	}

	type hits struct {
		total int64
		paths []string
	}
	byIP := make(map[string]*hits)
	for _, row := range rows {
		h, ok := byIP[row.IP]
		if !ok {
			h = &hits{}
			byIP[row.IP] = h
		}
		h.total += row.Count
		h.paths = append(h.paths, row.Path)
	}

	ips := make([]string, 0, len(byIP))
	for ip := range byIP {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var errs []error
	for _, ip := range ips {
		h := byIP[ip]
		if h.total <= int64(d.opts.SensitiveThreshold) {
			continue
		}
		sort.Strings(h.paths)
		reason := fmt.Sprintf("Repeated sensitive path access (%d attempts to %s) in %s.",
			h.total, strings.Join(h.paths, ", "), describeWindow(d.opts.Window))
		if err := d.flag(ctx, log, rep, report.Flag{
			IP: ip, Policy: report.PolicySensitivePath, Count: h.total, Reason: reason,
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Detector) flag(ctx context.Context, log *logrus.Entry, rep *report.Report, f report.Flag) error {
	inserted, err := d.flagger.FlagIfAbsent(ctx, f.IP, f.Reason, rep.WindowEnd)
	if err != nil {
		log.WithFields(logrus.Fields{"ip": f.IP, "policy": f.Policy}).WithError(err).Error("Failed to flag suspicious IP")
		return err
	}
	if !inserted {
		return nil
	}
	rep.Flags = append(rep.Flags, f)
	log.WithFields(logrus.Fields{
		"ip":     f.IP,
		"policy": f.Policy,
		"count":  f.Count,
	}).Warn("Flagged suspicious IP")
	return nil
}

func describeWindow(w time.Duration) string {
	if w == time.Hour {
		return "the last hour"
	}
	return "the last " + w.String()
}
