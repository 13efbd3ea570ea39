package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/config"
	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/export"
	"github.com/sells-group/etf-advisor/internal/model"
	"github.com/sells-group/etf-advisor/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score and tier an instrument table",
	Long: `Normalize every configured metric across the instrument table, compute the
weighted composite score, classify each instrument into a risk tier by the
tiering metric and select the top-N of every tier.

Examples:
  # Print the ranked table
  score --instruments etfs.csv

  # Export the scored table and selection to a workbook
  score --instruments etfs.xlsx --format xlsx --output scored.xlsx

  # Only the selected instruments, with custom metric columns
  score --instruments etfs.csv --selected-only --columns volatility,return_1y

  # Override the number of instruments selected per tier and save the run
  score --instruments etfs.csv --top-n 3 --save`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("columns", "", "comma-separated metric columns to show (default: scoring and tiering metrics)")
	f.Bool("selected-only", false, "list only the selected instruments")
	f.Int("top-n", 0, "instruments selected per tier (overrides config)")
	f.Bool("save", false, "save the scored table as a run in the store")
	addInstrumentsFlag(scoreCmd)
	addOutputFlags(scoreCmd)

	rootCmd.AddCommand(scoreCmd)
}

// scoreOutput is the JSON and YAML document of the score command.
type scoreOutput struct {
	RunID       string                   `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ConfigHash  string                   `json:"config_hash" yaml:"config_hash"`
	Instruments []model.ScoredInstrument `json:"instruments" yaml:"instruments"`
	Selection   model.Selection          `json:"selection" yaml:"selection"`
	Warnings    []model.Warning          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "score"))

	selectedOnly, _ := cmd.Flags().GetBool("selected-only")
	save, _ := cmd.Flags().GetBool("save")

	eng, err := engine.New(applyTieringOverrides(cmd, cfg.EngineConfig))
	if err != nil {
		return err
	}

	b, warnings, err := loadBatch(ctx, cmd, eng)
	if err != nil {
		return eris.Wrap(err, "score")
	}
	log.Info("scoring complete",
		zap.Int("instruments", len(b.Instruments)),
		zap.Int("selected", b.SelectedCount()),
		zap.Int("warnings", len(warnings)),
	)

	out := scoreOutput{ConfigHash: b.ConfigHash, Selection: b.Selection, Warnings: warnings}
	for _, it := range b.Ranked() {
		if selectedOnly && !it.Selected {
			continue
		}
		out.Instruments = append(out.Instruments, it)
	}

	if save {
		runID, err := saveRun(ctx, store.RunRecord{
			ConfigHash: b.ConfigHash,
			Scored:     b.Instruments,
			Warnings:   warnings,
		})
		if err != nil {
			return eris.Wrap(err, "score: save")
		}
		out.RunID = runID
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Saved run %s\n", runID)
	}

	tables := []export.Table{
		export.ScoredTable(out.Instruments, metricColumns(cmd, eng.Config())),
		export.SelectionTable(b.Selection),
	}
	if len(warnings) > 0 {
		tables = append(tables, export.WarningTable(warnings))
	}
	if err := writeOutput(cmd, out, tables...); err != nil {
		return err
	}

	printScoreSummary(cmd.ErrOrStderr(), b, warnings)
	return nil
}

// applyTieringOverrides returns a copy of the base config with CLI flag overrides applied.
func applyTieringOverrides(cmd *cobra.Command, base config.EngineConfig) config.EngineConfig {
	c := base
	if v, _ := cmd.Flags().GetInt("top-n"); v > 0 {
		c.Tiering.TopN = config.TierCounts{Low: v, Medium: v, High: v}
	}
	return c
}

// metricColumns returns the --columns list, or every scoring metric followed
// by the tiering metric when it is not scored.
func metricColumns(cmd *cobra.Command, c config.EngineConfig) []string {
	if v, _ := cmd.Flags().GetString("columns"); v != "" {
		return splitAndTrim(v)
	}
	var cols []string
	seen := make(map[string]bool)
	for _, m := range c.Scoring.Metrics {
		cols = append(cols, m.Name)
		seen[m.Name] = true
	}
	if !seen[c.Tiering.Metric] {
		cols = append(cols, c.Tiering.Metric)
	}
	return cols
}

func printScoreSummary(w io.Writer, b *engine.Batch, warnings []model.Warning) {
	if len(b.Instruments) == 0 {
		_, _ = fmt.Fprintln(w, "No results.")
		return
	}
	minScore, maxScore := b.Instruments[0].CompositeScore, b.Instruments[0].CompositeScore
	var sumScore float64
	perTier := make(map[model.RiskTier]int, len(model.Tiers))
	for _, it := range b.Instruments {
		sumScore += it.CompositeScore
		minScore = min(minScore, it.CompositeScore)
		maxScore = max(maxScore, it.CompositeScore)
		perTier[it.Tier]++
	}

	_, _ = fmt.Fprintf(w, "\n--- Summary ---\n")
	_, _ = fmt.Fprintf(w, "Total scored:  %d\n", len(b.Instruments))
	for _, t := range model.Tiers {
		_, _ = fmt.Fprintf(w, "  %-11s %d (%d selected)\n", string(t)+":", perTier[t], len(b.Selection[t]))
	}
	_, _ = fmt.Fprintf(w, "Score range:   %.4f - %.4f\n", minScore, maxScore)
	_, _ = fmt.Fprintf(w, "Average score: %.4f\n", sumScore/float64(len(b.Instruments)))
	_, _ = fmt.Fprintf(w, "Config hash:   %s\n", b.ConfigHash)
	printWarnings(w, warnings)
}
