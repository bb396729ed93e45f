package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/flatvec"
	"github.com/hupe1980/flatvec/blobstore"
	"github.com/hupe1980/flatvec/config"
	"github.com/hupe1980/flatvec/registry"
	"github.com/spf13/cobra"
)

var backupJSON bool

var backupCmd = &cobra.Command{
	Use:   "backup <name>",
	Short: "Upload a snapshot of a store to the configured backup target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !registry.ValidName(name) {
			return fmt.Errorf("%w: %q", registry.ErrInvalidName, name)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		bs, err := requireBlobStore(cmd, cfg)
		if err != nil {
			return err
		}
		opts, err := storeOptions(cfg, logger)
		if err != nil {
			return err
		}

		s, err := flatvec.Open(cmd.Context(), storePath(cfg, name), opts...)
		if err != nil {
			return err
		}
		info, err := blobstore.Backup(cmd.Context(), bs, name, s)
		if cerr := s.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if backupJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		fmt.Fprintf(out, "backed up %s to %s (%d records, seq %d, %d bytes)\n",
			name, info.Key, info.Records, info.Seq, info.Size)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name> [key]",
	Short: "Recreate a store from a snapshot",
	Long: `Restore downloads a snapshot and writes it as <data_dir>/<name>.wal.
Without a key the newest snapshot taken of <name> is used. The target
store must not exist.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !registry.ValidName(name) {
			return fmt.Errorf("%w: %q", registry.ErrInvalidName, name)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		bs, err := requireBlobStore(cmd, cfg)
		if err != nil {
			return err
		}
		opts, err := storeOptions(cfg, logger)
		if err != nil {
			return err
		}

		var key string
		if len(args) == 2 {
			key = args[1]
		} else if key, err = blobstore.Latest(cmd.Context(), bs, name); err != nil {
			return err
		}

		s, err := blobstore.Restore(cmd.Context(), bs, key, storePath(cfg, name), opts...)
		if err != nil {
			return err
		}
		count, seq := s.Count(), s.Seq()
		if err := s.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s (%d records, seq %d)\n", name, key, count, seq)
		return nil
	},
}

func init() {
	backupCmd.Flags().BoolVar(&backupJSON, "json", false, "output as JSON")
}

func requireBlobStore(cmd *cobra.Command, cfg *config.Config) (blobstore.BlobStore, error) {
	if !cfg.Backup.Enabled() {
		return nil, errors.New("no backup target configured (set backup.type)")
	}
	return newBlobStore(cmd.Context(), cfg)
}
