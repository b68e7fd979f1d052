package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tendant/minimage/pkg/minimage"
)

var putTTL int64

var putCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Store a local file",
	Long:  "Store a local file directly in the configured stores and print its id.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPut,
}

func init() {
	putCmd.Flags().Int64Var(&putTTL, "ttl", -1, "lifetime in seconds, 0 keeps forever (default: DEFAULT_TTL_SECONDS)")
	rootCmd.AddCommand(putCmd)
}

func runPut(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := putTTL
	if ttl < 0 {
		ttl = cfg.DefaultTTLSeconds
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	svc, closeStore, err := cfg.BuildService(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	result, err := svc.Put(cmd.Context(), minimage.PutRequest{
		Reader:     f,
		Extension:  filepath.Ext(args[0]),
		TTLSeconds: ttl,
	})
	if err != nil {
		return fmt.Errorf("put failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\tttl=%ds\n", result.ID, result.Size, result.TTLSeconds)
	return nil
}
