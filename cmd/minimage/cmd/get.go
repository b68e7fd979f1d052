package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Write a live image to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "output file (default: stdout)")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) (err error) {
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

	rc, _, err := svc.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	defer rc.Close()

	out := cmd.OutOrStdout()
	if getOutput != "" {
		var f *os.File
		f, err = os.Create(getOutput)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		out = f
	}

	_, err = io.Copy(out, rc)
	return err
}
