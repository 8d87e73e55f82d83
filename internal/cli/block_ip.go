package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sdko-org/traffic-guard/internal/ipaddr"
	"github.com/sdko-org/traffic-guard/internal/store"
)

const defaultBlockReason = "Manually blocked by admin"

var blockReason string

// ValidationError reports a block-ip argument that is not an IP literal.
type ValidationError struct {
	Input string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid IP address %q", e.Input)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type ipBlocker interface {
	Block(ctx context.Context, ip, reason string) (created bool, err error)
}

var blockIPCmd = &cobra.Command{
	Use:   "block-ip <ip>",
	Short: "Add an address to the blocklist or update its reason",
	Long: `Add an IPv4 or IPv6 address to the blocklist. If the address is already
blocked, only its reason is replaced.

Running gates pick the change up on their next cache refresh.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		return runBlockIP(cmd.Context(), cmd.OutOrStdout(), store.NewBlocklist(db), args[0], blockReason)
	},
}

func init() {
	rootCmd.AddCommand(blockIPCmd)
	blockIPCmd.Flags().StringVar(&blockReason, "reason", defaultBlockReason, "Why the address is blocked")
}

func runBlockIP(ctx context.Context, out io.Writer, blocker ipBlocker, raw, reason string) error {
	ip, err := ipaddr.Parse(raw)
	if err != nil {
		return &ValidationError{Input: raw, Err: err}
	}
	if reason == "" {
		reason = defaultBlockReason
	}

	created, err := blocker.Block(ctx, ip, reason)
	if err != nil {
		return fmt.Errorf("block %s: %w", ip, err)
	}

	if created {
		fmt.Fprintf(out, "Successfully blocked IP: %s (Reason: %s)\n", ip, reason)
	} else {
		fmt.Fprintf(out, "IP %s was already blocked. Updated reason to: %s\n", ip, reason)
	}
	return nil
}
