package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/abhisek/tierkit/internal/metrics"
	"github.com/abhisek/tierkit/internal/server"
	"github.com/abhisek/tierkit/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the classification API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.HTTP.Addr, _ = cmd.Flags().GetString("addr")
		}
		noHistory, _ := cmd.Flags().GetBool("no-history")

		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts := []service.Option{service.WithMetrics(metrics.New(reg))}

		if !noHistory {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			opts = append(opts, service.WithRuns(st.Runs()))
		}
		if pub := newPublisher(); pub != nil {
			defer pub.Close()
			opts = append(opts, service.WithPublisher(pub))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.New(service.New(cat, opts...), cfg.HTTP, cfg.Batch, reg).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides TIERKIT_HTTP_ADDR)")
	serveCmd.Flags().Bool("no-history", false, "Run without the SQLite run history")
}
