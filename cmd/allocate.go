package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/allocation"
	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/export"
	"github.com/sells-group/etf-advisor/internal/model"
)

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Derive the target tier allocation of every client",
	Long: `Map each client's risk tolerance to its baseline LOW/MEDIUM/HIGH split and
apply the horizon adjustment. Percentages are fixed-point and always sum to
exactly 100.

Examples:
  allocate --clients clients.csv
  allocate --clients clients.json --format json`,
	RunE: runAllocate,
}

func init() {
	addClientsFlag(allocateCmd)
	addOutputFlags(allocateCmd)
	rootCmd.AddCommand(allocateCmd)
}

// allocateOutput is the JSON and YAML document of the allocate command.
type allocateOutput struct {
	Allocations []model.TierAllocation `json:"allocations" yaml:"allocations"`
	Warnings    []model.Warning        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func runAllocate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(cfg.EngineConfig)
	if err != nil {
		return err
	}

	profiles, warnings, err := loadClients(ctx, cmd, eng)
	if err != nil {
		return eris.Wrap(err, "allocate")
	}

	out := allocateOutput{Warnings: warnings}
	for _, p := range profiles {
		a, err := allocation.Derive(p, eng.Config().Allocation)
		if err != nil {
			return eris.Wrapf(err, "allocate: client %s", p.ID)
		}
		out.Allocations = append(out.Allocations, a)
	}
	zap.L().Info("allocations derived", zap.Int("clients", len(out.Allocations)))

	tables := []export.Table{export.TargetTable(profiles, out.Allocations)}
	if len(warnings) > 0 {
		tables = append(tables, export.WarningTable(warnings))
	}
	if err := writeOutput(cmd, out, tables...); err != nil {
		return err
	}
	printWarnings(cmd.ErrOrStderr(), warnings)
	return nil
}
