package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/flatvec"
	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact <store|file>",
	Short: "Rewrite a store log to its live records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		opts, err := storeOptions(cfg, logger)
		if err != nil {
			return err
		}
		path := storePath(cfg, args[0])

		before, err := os.Stat(path)
		if err != nil {
			return err
		}
		s, err := flatvec.Open(cmd.Context(), path, opts...)
		if err != nil {
			return err
		}
		if err := s.Compact(cmd.Context()); err != nil {
			_ = s.Close()
			return err
		}
		count, seq := s.Count(), s.Seq()
		if err := s.Close(); err != nil {
			return err
		}
		after, err := os.Stat(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "compacted %s: %d records, seq %d, %d -> %d bytes\n",
			path, count, seq, before.Size(), after.Size())
		return nil
	},
}
