package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/export"
	"github.com/sells-group/etf-advisor/internal/ingest"
	"github.com/sells-group/etf-advisor/internal/model"
)

const maxListedWarnings = 20

func addInstrumentsFlag(cmd *cobra.Command) {
	cmd.Flags().String("instruments", "", "instrument table (.csv, .tsv, .xlsx or .json; default input.instruments)")
}

func addClientsFlag(cmd *cobra.Command) {
	cmd.Flags().String("clients", "", "client profile table (.csv, .tsv, .xlsx or .json; default input.clients)")
}

func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("format", string(export.FormatTable), "output format: table, csv, xlsx, json or yaml")
	f.String("output", "", "output file path (default: stdout)")
	f.String("lang", "en", "language tag for number formatting in table output")
}

// inputPath returns the flag value, falling back to the configured path.
func inputPath(cmd *cobra.Command, flag, fallback string) (string, error) {
	path, _ := cmd.Flags().GetString(flag)
	if path == "" {
		path = fallback
	}
	if path == "" {
		return "", eris.Errorf("no %s table given (--%s)", flag, flag)
	}
	return path, nil
}

// loadBatch reads the instrument table and builds the scored batch. The
// returned warnings cover both rejected records and scoring fallbacks.
func loadBatch(ctx context.Context, cmd *cobra.Command, eng *engine.Engine) (*engine.Batch, []model.Warning, error) {
	path, err := inputPath(cmd, "instruments", cfg.Input.Instruments)
	if err != nil {
		return nil, nil, err
	}
	opts := ingest.Options{RequiredMetrics: []string{eng.Config().Tiering.Metric}}
	instruments, warnings, err := ingest.LoadInstruments(ctx, path, opts)
	if err != nil {
		return nil, nil, err
	}
	b, err := eng.BuildBatch(instruments)
	if err != nil {
		return nil, nil, err
	}
	return b, slices.Concat(warnings, b.Warnings), nil
}

func loadClients(ctx context.Context, cmd *cobra.Command, eng *engine.Engine) ([]model.ClientProfile, []model.Warning, error) {
	path, err := inputPath(cmd, "clients", cfg.Input.Clients)
	if err != nil {
		return nil, nil, err
	}
	return ingest.LoadClients(ctx, path, eng.Config().Allocation)
}

// writeOutput encodes value and tables in the --format to --output, or to
// the command's stdout.
func writeOutput(cmd *cobra.Command, value any, tables ...export.Table) error {
	formatName, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")
	langName, _ := cmd.Flags().GetString("lang")

	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	lang, err := language.Parse(langName)
	if err != nil {
		return eris.Wrapf(err, "invalid --lang %q", langName)
	}

	wr := export.NewWriter(format, lang)
	if outputPath == "" || outputPath == "-" {
		if format == export.FormatXLSX {
			return eris.New("xlsx output needs --output")
		}
		return wr.Write(cmd.OutOrStdout(), value, tables...)
	}
	return wr.WriteFile(outputPath, value, tables...)
}

// printWarnings summarizes warnings on w, listing at most maxListedWarnings.
func printWarnings(w io.Writer, warnings []model.Warning) {
	if len(warnings) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%d warning(s):\n", len(warnings))
	for i, wn := range warnings {
		if i == maxListedWarnings {
			_, _ = fmt.Fprintf(w, "  ... and %d more\n", len(warnings)-maxListedWarnings)
			break
		}
		_, _ = fmt.Fprintf(w, "  %s\n", wn)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
