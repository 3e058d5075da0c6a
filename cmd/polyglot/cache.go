package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polyglot/pkg/cache/sqlite"
	"github.com/pario-ai/polyglot/pkg/config"
)

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persistent result cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, path, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			total, err := store.Count()
			if err != nil {
				return err
			}
			expired, err := store.CountExpired()
			if err != nil {
				return err
			}
			size := "-"
			if fi, err := os.Stat(path); err == nil {
				size = humanize.Bytes(uint64(fi.Size()))
			}
			fmt.Printf("Path:    %s\nSize:    %s\nEntries: %s\nExpired: %s\n",
				path, size, humanize.Comma(total), humanize.Comma(expired))
			return nil
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Purge(expiredOnly)
			if err != nil {
				return err
			}
			if expiredOnly {
				fmt.Printf("%s expired cache entries cleared.\n", humanize.Comma(n))
			} else {
				fmt.Printf("%s cache entries cleared.\n", humanize.Comma(n))
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "polyglot.yaml", "path to config file")
	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

func openStore(configPath string) (*sqlite.Store, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	if cfg.Cache.DBPath == "" {
		return nil, "", errors.New("cache.db_path is not set; only the in-memory cache is active")
	}
	store, err := sqlite.New(cfg.Cache.DBPath)
	if err != nil {
		return nil, "", err
	}
	return store, cfg.Cache.DBPath, nil
}
