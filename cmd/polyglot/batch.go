package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polyglot/pkg/batch"
	"github.com/pario-ai/polyglot/pkg/lang"
)

func newBatchCmd() *cobra.Command {
	var (
		configPath  string
		concurrency int
		timeout     time.Duration
		outDir      string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Convert every request in a YAML manifest concurrently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadManifest(args[0])
			if err != nil {
				return err
			}

			eng, logger, err := openEngine(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = eng.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := eng.SubmitBatch(ctx, reqs, concurrency, timeout)
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := writeOutputs(outDir, report); err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tFROM\tTO\tSTATUS\tPROVIDER\tCONFIDENCE\tSIZE\tDETAIL")
			for _, it := range report.Items {
				provider, confidence, size, detail := "-", "-", "-", ""
				if it.Result != nil {
					provider = it.Result.Provider
					confidence = fmt.Sprintf("%d", it.Result.Confidence)
					size = humanize.Bytes(uint64(len(it.Result.Code)))
					if it.Result.CacheHit {
						detail = "cached"
					}
				} else if it.Err != nil {
					detail = it.Err.Error()
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					it.Index, it.Request.SourceLanguage, it.Request.TargetLanguage,
					it.Status(), provider, confidence, size, detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			s := report.Summary
			fmt.Printf("\nBatch %s: %d total, %d succeeded, %d failed, %d timed out in %s\n",
				report.ID, s.Total, s.Succeeded, s.Failed, s.TimedOut, s.Elapsed.Round(time.Millisecond))
			if s.Succeeded < s.Total {
				return fmt.Errorf("%d of %d conversions did not succeed", s.Total-s.Succeeded, s.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "polyglot.yaml", "path to config file")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max concurrent conversions (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall batch deadline (default from config)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write converted files into")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

// writeOutputs stores each successful result as <index>.<ext> under dir.
func writeOutputs(dir string, report batch.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, it := range report.Items {
		if it.Result == nil {
			continue
		}
		name := fmt.Sprintf("%03d%s", it.Index, lang.Extension(it.Request.TargetLanguage))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(it.Result.Code+"\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
