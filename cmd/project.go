package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/export"
	"github.com/sells-group/etf-advisor/internal/model"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Print the projected value path of one client",
	Long: `Project one client's portfolio value over the horizon. The recommendation
is either computed from the instrument and client tables or read from a
saved run.

Examples:
  project --instruments etfs.csv --clients clients.csv --client C-104
  project --run 0b7c9a8e-... --client C-104 --yearly=false --format csv`,
	RunE: runProject,
}

func init() {
	addProjectionFlags(projectCmd)
	f := projectCmd.Flags()
	f.String("client", "", "client id to project (required)")
	f.String("run", "", "read the recommendation from a saved run instead of computing it")
	f.Bool("yearly", true, "keep only year-end points")
	_ = projectCmd.MarkFlagRequired("client")
	addInstrumentsFlag(projectCmd)
	addClientsFlag(projectCmd)
	addOutputFlags(projectCmd)

	rootCmd.AddCommand(projectCmd)
}

func runProject(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientID, _ := cmd.Flags().GetString("client")
	runID, _ := cmd.Flags().GetString("run")
	yearly, _ := cmd.Flags().GetBool("yearly")

	var rec *model.Recommendation
	if runID != "" {
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err = st.GetRecommendation(ctx, runID, clientID)
		if err != nil {
			return eris.Wrap(err, "project")
		}
	} else {
		eng, err := engine.New(applyProjectionOverrides(cmd, cfg.EngineConfig))
		if err != nil {
			return err
		}
		profiles, _, err := loadClients(ctx, cmd, eng)
		if err != nil {
			return eris.Wrap(err, "project")
		}
		profile, ok := findClient(profiles, clientID)
		if !ok {
			return eris.Errorf("project: client %s not found", clientID)
		}
		b, _, err := loadBatch(ctx, cmd, eng)
		if err != nil {
			return eris.Wrap(err, "project")
		}
		r, err := eng.Recommend(b, profile)
		if err != nil {
			return eris.Wrap(err, "project")
		}
		rec = &r
	}

	recs := []model.Recommendation{*rec}
	if err := writeOutput(cmd, rec.Projection, export.ProjectionTable(recs, yearly)); err != nil {
		return err
	}
	printProjectionSummary(cmd.ErrOrStderr(), rec)
	return nil
}

func findClient(profiles []model.ClientProfile, id string) (model.ClientProfile, bool) {
	for _, p := range profiles {
		if p.ID == id {
			return p, true
		}
	}
	return model.ClientProfile{}, false
}

func printProjectionSummary(w io.Writer, rec *model.Recommendation) {
	final := rec.Projection.Final()
	_, _ = fmt.Fprintf(w, "\nClient:         %s\n", rec.ClientID)
	_, _ = fmt.Fprintf(w, "Horizon:        %d years\n", rec.Profile.HorizonYears)
	_, _ = fmt.Fprintf(w, "Blended return: %.2f%%\n", rec.Projection.BlendedReturn)
	_, _ = fmt.Fprintf(w, "Contributed:    %.2f\n", final.Contributed)
	_, _ = fmt.Fprintf(w, "Final value:    %.2f\n", final.Value)
	_, _ = fmt.Fprintf(w, "Gain:           %.2f\n", rec.Projection.Gain())
}
