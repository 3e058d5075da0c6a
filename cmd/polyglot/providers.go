package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/polyglot/pkg/models"
)

func newProvidersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, logger, err := openEngine(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = eng.Close() }()

			statuses := eng.ProviderStatus()
			if len(statuses) == 0 {
				fmt.Println("No providers configured.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tPRIORITY\tTIER\tENABLED\tCIRCUIT\tQUOTA/MIN\tQUOTA/HOUR\tSUCCESS\tLANGUAGES")
			descs := make(map[string]models.ProviderDescriptor)
			for _, d := range eng.Providers() {
				descs[d.ID] = d
			}
			for _, s := range statuses {
				d := descs[s.ProviderID]
				circuit := "closed"
				if s.CircuitOpen {
					circuit = "open"
					if s.CircuitOpenUntil != nil {
						circuit = "open, retry " + humanize.Time(*s.CircuitOpenUntil)
					}
				}
				langs := "all"
				if len(d.Languages) > 0 {
					langs = strings.Join(d.Languages, ",")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%t\t%s\t%s\t%s\t%.0f%%\t%s\n",
					s.ProviderID, d.Priority, d.Tier, s.Enabled, circuit,
					quotaString(s.QuotaRemainingMinute), quotaString(s.QuotaRemainingHour),
					s.SuccessRate*100, langs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "polyglot.yaml", "path to config file")
	return cmd
}

func quotaString(n int) string {
	if n < 0 {
		return "unlimited"
	}
	return humanize.Comma(int64(n))
}
