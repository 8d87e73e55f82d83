package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sdko-org/traffic-guard/internal/detector"
	"github.com/sdko-org/traffic-guard/internal/report"
	"github.com/sdko-org/traffic-guard/internal/store"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run the anomaly detector once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		d, err := newDetector(logger, db)
		if err != nil {
			return err
		}
		return d.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func newDetector(logger *logrus.Logger, db *gorm.DB) (*detector.Detector, error) {
	opts := detector.Options{
		Window:             cfg.DetectorWindow,
		VolumeThreshold:    cfg.DetectorVolumeThreshold,
		SensitiveThreshold: cfg.DetectorSensitiveThreshold,
		SensitivePaths:     cfg.SensitivePaths,
	}
	if cfg.ReportS3Bucket != "" {
		sink, err := report.NewS3Sink(cfg)
		if err != nil {
			return nil, err
		}
		opts.Sink = sink
	}
	return detector.New(logger, store.NewRequestLogs(db), store.NewSuspicious(db), opts), nil
}
