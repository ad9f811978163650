package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/abhisek/tierkit/internal/catalog"
	"github.com/abhisek/tierkit/internal/config"
	"github.com/abhisek/tierkit/internal/logging"
	"github.com/abhisek/tierkit/internal/publish"
	"github.com/abhisek/tierkit/internal/store"
)

// cfg is loaded once per invocation by rootCmd's PersistentPreRunE.
var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "tierkit",
	Short: "Rule-based multi-factor classification",
	Long: "tierkit scores records against declarative domains, assigns tiers or clusters,\n" +
		"and reconciles tier demand against program capacity.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFiles, _ := cmd.Flags().GetStringSlice("env-file")
		loaded, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		cfg = loaded

		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format, _ = cmd.Flags().GetString("log-format")
		}
		if cmd.Flags().Changed("domain-dir") {
			cfg.DomainDir, _ = cmd.Flags().GetString("domain-dir")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		logging.Init(level, cfg.Log.Format, cmd.ErrOrStderr())
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite run history (overrides TIERKIT_DB env var)")
	rootCmd.PersistentFlags().String("domain-dir", "", "Directory of extra domain documents (overrides TIERKIT_DOMAIN_DIR)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringSlice("env-file", nil, "Load settings from these .env files (default .env)")

	rootCmd.AddCommand(domainsCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then TIERKIT_DB (via config), then the default XDG path.
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if cfg.DBPath != "" {
		return cfg.DBPath, store.EnsureDir(cfg.DBPath)
	}
	return store.DefaultDBPath()
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	dbPath, err := resolveDBPath(cmd)
	if err != nil {
		return nil, fmt.Errorf("resolve database path: %w", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

func loadCatalog() (*catalog.Catalog, error) {
	cat, err := catalog.New(cfg.DomainDir, logging.New("catalog"))
	if err != nil {
		return nil, fmt.Errorf("load domains: %w", err)
	}
	return cat, nil
}

// newPublisher returns a retrying Kafka publisher, or nil when no brokers
// are configured.
func newPublisher() publish.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	logging.New("publish").Debug("kafka publishing enabled", slog.Any("brokers", cfg.Kafka.Brokers), slog.String("topic", cfg.Kafka.Topic))
	return publish.WithRetry(publish.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Retry)
}
