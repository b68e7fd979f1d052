package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Run one reap pass and exit",
	Long:  "Delete every image whose lifetime has ended, then print how many were removed.",
	Args:  cobra.NoArgs,
	RunE:  runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	svc, closeStore, err := cfg.BuildService(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	result, err := cfg.BuildReaper(svc, logger).RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("reap failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "found=%d deleted=%d failed=%d\n", result.Found, result.Deleted, result.Failed)
	if result.Failed > 0 {
		return fmt.Errorf("reap left %d images behind: %s", result.Failed, strings.Join(result.FailedIDs, ", "))
	}
	return nil
}
