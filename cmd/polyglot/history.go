package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polyglot/pkg/config"
	"github.com/pario-ai/polyglot/pkg/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
		summary    bool
		since      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.History.DBPath == "" {
				return fmt.Errorf("history.db_path is not set")
			}

			h, err := history.New(cfg.History.DBPath)
			if err != nil {
				return err
			}
			defer h.Close()

			ctx := cmd.Context()

			if summary {
				var from time.Time
				if since > 0 {
					from = time.Now().Add(-since)
				}
				sums, err := h.Summary(ctx, from)
				if err != nil {
					return err
				}
				if len(sums) == 0 {
					fmt.Println("No conversions recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "FROM\tTO\tPROVIDER\tCONVERSIONS\tSUCCESS\tCACHE HITS\tAVG SCORE\tAVG TIME")
				for _, s := range sums {
					provider := s.Provider
					if provider == "" {
						provider = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%.1f\t%s\n",
						s.SourceLanguage, s.TargetLanguage, provider, humanize.Comma(s.Conversions),
						s.SuccessRate()*100, humanize.Comma(s.CacheHits), s.AvgConfidence,
						s.AvgDuration.Round(time.Millisecond))
				}
				return w.Flush()
			}

			recs, err := h.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println("No conversions recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tFROM\tTO\tPROVIDER\tOUTCOME\tSCORE\tATTEMPTS\tSIZE\tTIME")
			for _, r := range recs {
				outcome := "ok"
				switch {
				case !r.Succeeded:
					outcome = r.ErrorKind
				case r.CacheHit:
					outcome = "cached"
				}
				provider := r.Provider
				if provider == "" {
					provider = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					humanize.Time(r.CreatedAt), r.SourceLanguage, r.TargetLanguage, provider, outcome,
					r.Confidence, r.Attempts, humanize.Bytes(uint64(r.SourceBytes)),
					r.Duration.Round(time.Millisecond))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			total, ok, err := h.Totals(ctx)
			if err != nil {
				return err
			}
			rate := 0.0
			if total > 0 {
				rate = float64(ok) / float64(total) * 100
			}
			fmt.Printf("\n%s conversions recorded, %.1f%% succeeded\n", humanize.Comma(total), rate)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "polyglot.yaml", "path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&summary, "summary", false, "aggregate by language pair and provider")
	cmd.Flags().DurationVar(&since, "since", 0, "with --summary, only include this recent window (e.g. 24h)")
	return cmd
}
