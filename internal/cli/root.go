// Package cli provides the traffic-guard commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sdko-org/traffic-guard/internal/config"
	"github.com/sdko-org/traffic-guard/internal/database"
	"github.com/sdko-org/traffic-guard/internal/logging"
)

var (
	envFile string

	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "traffic-guard",
	Short: "Traffic Guard - IP blocklist gate, request logger and anomaly detector",
	Long: `Traffic Guard sits in front of an HTTP application. It rejects requests
from blocked addresses, records every admitted request with its
geolocation, and periodically flags addresses whose recent traffic
looks abusive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger = logging.New(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading configuration")
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func openDB() (*gorm.DB, error) {
	return database.NewPostgresDB(logger, database.PostgresConfigFrom(cfg))
}
