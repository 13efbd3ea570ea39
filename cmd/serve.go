package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/ingest"
	"github.com/sells-group/etf-advisor/internal/metrics"
	"github.com/sells-group/etf-advisor/internal/model"
	"github.com/sells-group/etf-advisor/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recommendation API server",
	Long: `Load and score the instrument table, then serve the scored batch and
on-demand client recommendations over HTTP. With a reload schedule the table
is re-read periodically and the new batch replaces the old one without
interrupting requests.

Examples:
  serve --instruments etfs.csv
  serve --instruments etfs.csv --port 9090 --reload-cron "0 6 * * 1-5"`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.Int("port", 0, "server port (default from config)")
	f.String("reload-cron", "", "reload schedule, e.g. \"@every 1h\" (default from config)")
	f.Bool("no-store", false, "do not record reloads or serve run history")
	addInstrumentsFlag(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Server.Port
	}
	serverCfg := cfg.Server
	if v, _ := cmd.Flags().GetString("reload-cron"); v != "" {
		serverCfg.ReloadCron = v
	}
	noStore, _ := cmd.Flags().GetBool("no-store")

	path, err := inputPath(cmd, "instruments", cfg.Input.Instruments)
	if err != nil {
		return err
	}

	rec := metrics.New()
	eng, err := engine.New(cfg.EngineConfig, engine.WithRecorder(rec))
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithMetrics(rec),
		server.WithLoader(func(ctx context.Context) ([]model.Instrument, []model.Warning, error) {
			return ingest.LoadInstruments(ctx, path, ingest.Options{RequiredMetrics: []string{cfg.Tiering.Metric}})
		}),
	}
	if !noStore {
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		opts = append(opts, server.WithStore(st))
	}

	srv := server.New(eng, serverCfg, opts...)
	if err := srv.Reload(ctx); err != nil {
		return eris.Wrap(err, "serve: initial load")
	}
	if err := srv.StartScheduler(ctx); err != nil {
		return err
	}
	defer srv.StopScheduler()

	return srv.ListenAndServe(ctx, port)
}
