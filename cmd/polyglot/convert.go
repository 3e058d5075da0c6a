package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/polyglot/pkg/lang"
	"github.com/pario-ai/polyglot/pkg/models"
)

func newConvertCmd() *cobra.Command {
	var (
		configPath string
		req        models.ConversionRequest
		style      string
		asJSON     bool
		color      string
	)

	cmd := &cobra.Command{
		Use:   "convert [file|-]",
		Short: "Convert one source file to another language",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(args[0])
			if err != nil {
				return err
			}
			req.SourceCode = src
			req.Style = models.ConversionStyle(style)
			if req.SourceLanguage == "" {
				req.SourceLanguage = lang.FromPath(args[0])
			}

			eng, logger, err := openEngine(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = eng.Close() }()

			res, err := eng.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			out := cmd.OutOrStdout()
			code := res.Code
			if colorEnabled(color, out) {
				code = highlight(code, req.TargetLanguage)
			}
			fmt.Fprintln(out, code)
			errOut := cmd.ErrOrStderr()
			fmt.Fprintf(errOut, "provider=%s confidence=%d cache_hit=%t time=%s\n",
				res.Provider, res.Confidence, res.CacheHit, res.ExecutionTime.Round(time.Millisecond))
			for _, w := range res.Warnings {
				fmt.Fprintf(errOut, "warning: %s\n", w)
			}
			for _, s := range res.Suggestions {
				fmt.Fprintf(errOut, "suggestion: %s\n", s)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "polyglot.yaml", "path to config file")
	cmd.Flags().StringVarP(&req.SourceLanguage, "from", "f", "", "source language (default: inferred from file extension)")
	cmd.Flags().StringVarP(&req.TargetLanguage, "to", "t", "", "target language")
	cmd.Flags().StringVar(&style, "style", string(models.StyleIdiomatic), "direct, idiomatic, modernize or framework-migration")
	cmd.Flags().StringVar(&req.StyleGuide, "style-guide", "", "named style guide for the target language")
	cmd.Flags().BoolVar(&req.IncludeComments, "comments", false, "keep explanatory comments")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().StringVar(&color, "color", "auto", "highlight output: auto, always or never")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// readSource reads a file, or stdin for "-".
func readSource(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	return string(data), nil
}
