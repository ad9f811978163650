package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/abhisek/tierkit/internal/engine"
	"github.com/abhisek/tierkit/internal/factor"
	"github.com/abhisek/tierkit/internal/ingest"
	"github.com/abhisek/tierkit/internal/metrics"
	"github.com/abhisek/tierkit/internal/reconcile"
	"github.com/abhisek/tierkit/internal/report"
	"github.com/abhisek/tierkit/internal/service"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <domain> <records-file|->",
	Short: "Classify a file of records against a domain",
	Long: `Classify reads records from a CSV, JSON, JSON Lines or YAML file ("-" reads
stdin and needs --input-format), scores every record, assigns its tier and
writes a report. Records that cannot be normalized are skipped and listed
unless --fail-fast is given.

With --capacity or --reconcile the tier demand is reconciled against
program capacity and a directive is produced for every cluster.`,
	Args: cobra.ExactArgs(2),
	RunE: runClassify,
}

func init() {
	f := classifyCmd.Flags()
	f.StringP("format", "f", "table", "Output format: table, json or csv")
	f.StringP("output", "o", "", "Write the report to this file instead of stdout")
	f.String("input-format", "", "Record format: csv, json, jsonl or yaml (default from file extension)")
	f.String("id-column", ingest.DefaultIDColumn, "Field holding the record id")
	f.String("capacity", "", "Capacity table (CSV or YAML) replacing the domain's own; implies --reconcile")
	f.Bool("reconcile", false, "Reconcile tier demand against the domain's capacity table")
	f.String("reconcile-out", "", "Write the reconciliation to this file (required for csv output)")
	f.Bool("fail-fast", false, "Abort on the first invalid record instead of skipping it")
	f.Int("parallel", 0, "Classify with this many workers (overrides TIERKIT_PARALLEL)")
	f.StringArray("set", nil, "Override a domain constant, e.g. --set housing_min_address_changes=3")
	f.Bool("save", false, "Save the run to the history database")
	f.Bool("publish", false, "Publish results to Kafka (needs TIERKIT_KAFKA_BROKERS)")
	f.Bool("color", false, "Colour table output")
}

func runClassify(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	formatName, _ := flags.GetString("format")
	outPath, _ := flags.GetString("output")
	inputFormat, _ := flags.GetString("input-format")
	idColumn, _ := flags.GetString("id-column")
	capPath, _ := flags.GetString("capacity")
	reconcileFlag, _ := flags.GetBool("reconcile")
	reconcileOut, _ := flags.GetString("reconcile-out")
	failFast, _ := flags.GetBool("fail-fast")
	sets, _ := flags.GetStringArray("set")
	save, _ := flags.GetBool("save")
	publishFlag, _ := flags.GetBool("publish")
	color, _ := flags.GetBool("color")

	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	doReconcile := reconcileFlag || capPath != ""
	if format == report.CSV && doReconcile && reconcileOut == "" {
		return errors.New("csv output carries one row per record: pass --reconcile-out for the reconciliation")
	}

	constants, err := parseConstants(sets)
	if err != nil {
		return err
	}

	mode := engine.Mode(cfg.Batch.Mode)
	if failFast {
		mode = engine.FailFast
	}
	parallel := cfg.Batch.Parallel
	if flags.Changed("parallel") {
		parallel, _ = flags.GetInt("parallel")
	}

	records, err := readRecords(cmd, args[1], ingest.Options{Format: ingest.Format(inputFormat), IDColumn: idColumn})
	if err != nil {
		return err
	}

	var caps []reconcile.Capacity
	if capPath != "" {
		if caps, err = ingest.LoadCapacities(capPath); err != nil {
			return err
		}
	}

	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	opts := []service.Option{service.WithMetrics(metrics.New(prometheus.NewRegistry()))}
	if save {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, service.WithRuns(st.Runs()))
	}
	if publishFlag {
		pub := newPublisher()
		if pub == nil {
			return errors.New("--publish needs TIERKIT_KAFKA_BROKERS")
		}
		defer pub.Close()
		opts = append(opts, service.WithPublisher(pub))
	}
	svc := service.New(cat, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out, err := svc.Classify(ctx, service.Request{
		Domain:     args[0],
		Records:    records,
		Constants:  constants,
		Mode:       mode,
		Parallel:   parallel,
		Source:     args[1],
		Reconcile:  doReconcile,
		Capacities: caps,
		Save:       save,
		Publish:    publishFlag,
	})
	if err != nil {
		return err
	}

	em := report.Emitter{Format: format, Styled: color}
	if err := writeTo(cmd, outPath, func(w io.Writer) error { return em.Emit(w, out.Document()) }); err != nil {
		return err
	}
	if reconcileOut != "" {
		if err := writeTo(cmd, reconcileOut, func(w io.Writer) error { return em.EmitReconciliation(w, out.Reports) }); err != nil {
			return err
		}
	}
	if out.Saved {
		fmt.Fprintf(cmd.ErrOrStderr(), "saved run %s\n", out.RunID)
	}
	if out.PublishErr != nil {
		return fmt.Errorf("publish run %s: %w", out.RunID, out.PublishErr)
	}
	return nil
}

func readRecords(cmd *cobra.Command, path string, opts ingest.Options) ([]factor.Record, error) {
	if path != "-" {
		return ingest.LoadRecords(path, opts)
	}
	if opts.Format == "" {
		return nil, errors.New("reading stdin needs --input-format")
	}
	opts.Source = "stdin"
	return ingest.ReadRecords(cmd.InOrStdin(), opts)
}

// parseConstants turns name=value pairs into overrides.
func parseConstants(sets []string) (map[string]float64, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(sets))
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("--set %q: want name=value", s)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("--set %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// writeTo runs write against path, or stdout when path is empty.
func writeTo(cmd *cobra.Command, path string, write func(io.Writer) error) error {
	if path == "" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
