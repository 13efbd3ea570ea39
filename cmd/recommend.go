package main

import (
	"fmt"
	"os/signal"
	"slices"
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

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Build portfolio recommendations for every client",
	Long: `Score and tier the instrument table once, then for every client derive the
tier allocation, compose the weighted portfolio from the selected instruments
and project its value over the client's horizon. Clients are processed in
parallel; the output keeps the order of the client table.

Examples:
  recommend --instruments etfs.csv --clients clients.csv

  # Quarterly projection with a lump sum, yearly points only
  recommend --instruments etfs.csv --clients clients.csv --periods-per-year 4 --initial 10000 --yearly

  # Full workbook, saved as a run
  recommend --instruments etfs.csv --clients clients.csv --format xlsx --output advice.xlsx --save`,
	RunE: runRecommend,
}

func init() {
	addProjectionFlags(recommendCmd)
	f := recommendCmd.Flags()
	f.Int("concurrency", 0, "clients processed in parallel (default batch.max_concurrent_clients)")
	f.Bool("yearly", false, "keep only year-end projection points in table output")
	f.Bool("save", false, "save the scored table and recommendations as a run in the store")
	addInstrumentsFlag(recommendCmd)
	addClientsFlag(recommendCmd)
	addOutputFlags(recommendCmd)

	rootCmd.AddCommand(recommendCmd)
}

// recommendOutput is the JSON and YAML document of the recommend command.
type recommendOutput struct {
	RunID           string                 `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	ConfigHash      string                 `json:"config_hash" yaml:"config_hash"`
	Recommendations []model.Recommendation `json:"recommendations" yaml:"recommendations"`
	Warnings        []model.Warning        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zap.L().With(zap.String("command", "recommend"))

	yearly, _ := cmd.Flags().GetBool("yearly")
	save, _ := cmd.Flags().GetBool("save")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = cfg.Batch.MaxConcurrentClients
	}

	eng, err := engine.New(applyProjectionOverrides(cmd, cfg.EngineConfig))
	if err != nil {
		return err
	}

	b, batchWarnings, err := loadBatch(ctx, cmd, eng)
	if err != nil {
		return eris.Wrap(err, "recommend")
	}
	profiles, clientWarnings, err := loadClients(ctx, cmd, eng)
	if err != nil {
		return eris.Wrap(err, "recommend")
	}

	recs, err := eng.RecommendAll(ctx, b, profiles, concurrency)
	if err != nil {
		return eris.Wrap(err, "recommend")
	}

	warnings := slices.Concat(batchWarnings, clientWarnings)
	for _, r := range recs {
		warnings = append(warnings, r.Warnings...)
	}
	log.Info("recommendations complete",
		zap.Int("clients", len(recs)),
		zap.Int("warnings", len(warnings)),
	)

	out := recommendOutput{ConfigHash: b.ConfigHash, Recommendations: recs, Warnings: warnings}
	if save {
		runID, err := saveRun(ctx, store.RunRecord{
			ConfigHash:      b.ConfigHash,
			Scored:          b.Instruments,
			Recommendations: recs,
			Warnings:        warnings,
		})
		if err != nil {
			return eris.Wrap(err, "recommend: save")
		}
		out.RunID = runID
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Saved run %s\n", runID)
	}

	tables := []export.Table{
		export.SummaryTable(recs),
		export.AllocationTable(recs),
		export.PortfolioTable(recs),
		export.ProjectionTable(recs, yearly),
	}
	if len(warnings) > 0 {
		tables = append(tables, export.WarningTable(warnings))
	}
	if err := writeOutput(cmd, out, tables...); err != nil {
		return err
	}
	printWarnings(cmd.ErrOrStderr(), warnings)
	return nil
}

func addProjectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Float64("initial", 0, "initial lump sum at the start of the projection (overrides config)")
	f.Int("periods-per-year", 0, "compounding periods per year, e.g. 12, 4 or 1 (overrides config)")
	f.String("rate-conversion", "", "annual to per-period rate: effective or nominal (overrides config)")
}

// applyProjectionOverrides returns a copy of the base config with CLI flag overrides applied.
func applyProjectionOverrides(cmd *cobra.Command, base config.EngineConfig) config.EngineConfig {
	c := base
	if cmd.Flags().Changed("initial") {
		c.Projection.InitialValue, _ = cmd.Flags().GetFloat64("initial")
	}
	if v, _ := cmd.Flags().GetInt("periods-per-year"); v > 0 {
		c.Projection.PeriodsPerYear = v
	}
	if v, _ := cmd.Flags().GetString("rate-conversion"); v != "" {
		c.Projection.RateConversion = v
	}
	return c
}
