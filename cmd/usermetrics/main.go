/*
usermetrics - Prometheus exporter for xray access log user metrics.

Usage:

	usermetrics [flags]
	usermetrics version
	usermetrics config dump [flags]
	usermetrics config validate [flags]
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/compassvpn/user-metrics/internal/collector"
	"github.com/compassvpn/user-metrics/internal/config"
	"github.com/compassvpn/user-metrics/internal/ipfilter"
	"github.com/compassvpn/user-metrics/internal/logging"
	"github.com/compassvpn/user-metrics/internal/logparse"
	"github.com/compassvpn/user-metrics/internal/logsource"
	"github.com/compassvpn/user-metrics/internal/metrics"
	"github.com/compassvpn/user-metrics/internal/server"
	"github.com/compassvpn/user-metrics/internal/state"
	"github.com/compassvpn/user-metrics/internal/version"
)

var (
	// CLI flags; these override config file and environment values when explicitly set.
	flagPort       int
	flagInterval   int
	flagMinutes    int
	flagLogPath    string
	flagDebug      bool
	flagTest       bool
	flagDonor      string
	flagLogDir     string
	flagConfigPath string
	flagEnvFile    string
)

var rootCmd = &cobra.Command{
	Use:          "usermetrics",
	Short:        "Prometheus exporter for xray access log user metrics",
	SilenceUsage: true,
	RunE:         runExporter,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the resolved configuration as YAML",
	RunE:  runConfigDump,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE:  runConfigValidate,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfigPath, "config", "c", "", "config file path (default: usermetrics.yml in current directory)")
	pf.StringVar(&flagEnvFile, "env-file", "", "dotenv file to load (default: .env in current directory, if present)")
	pf.IntVarP(&flagPort, "port", "p", 9551, "port to expose metrics on")
	pf.IntVarP(&flagInterval, "interval", "i", 300, "update interval in seconds")
	pf.IntVarP(&flagMinutes, "minutes", "m", 2, "count connections from the last N minutes")
	pf.StringVarP(&flagLogPath, "log-path", "l", config.DefaultLogPath, "path to the xray access log")
	pf.BoolVarP(&flagDebug, "debug", "d", false, "enable debug logging")
	pf.StringVar(&flagDonor, "donor", "", "donor label attached to every metric (default: $DONOR or vmvm)")
	pf.StringVar(&flagLogDir, "log-dir", "", "directory for log files (empty to disable file logging)")

	rootCmd.Flags().BoolVarP(&flagTest, "test", "t", false, "run one collection cycle, print the results, and exit")

	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration from defaults, the config file, the
// dotenv file, the environment, and CLI flags, in increasing priority.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envPath, err := config.LoadEnvFile(flagEnvFile)
	if err != nil {
		return config.Default(), err
	}

	cfg, cfgPath, err := config.Load(flagConfigPath)
	if err != nil {
		return cfg, err
	}

	if cfgPath != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfgPath)
	}
	if envPath != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", envPath)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	cfg.Merge(cliOverrides(cmd))

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// cliOverrides collects the flags that were explicitly set.
func cliOverrides(cmd *cobra.Command) config.CLIOverrides {
	var o config.CLIOverrides
	flags := cmd.Flags()

	if flags.Changed("port") {
		o.Port = &flagPort
	}
	if flags.Changed("interval") {
		d := time.Duration(flagInterval) * time.Second
		o.Interval = &d
	}
	if flags.Changed("minutes") {
		d := time.Duration(flagMinutes) * time.Minute
		o.Window = &d
	}
	if flags.Changed("log-path") {
		o.LogPath = &flagLogPath
	}
	if flags.Changed("debug") {
		o.Verbose = &flagDebug
	}
	if flags.Changed("donor") {
		o.Donor = &flagDonor
	}
	if flags.Changed("log-dir") {
		o.LogDir = &flagLogDir
	}
	return o
}

// newCycle wires the collection pipeline for cfg, starting from cursor.
func newCycle(cfg *config.Config, logger *slog.Logger, cursor logsource.Cursor) (*collector.Cycle, error) {
	exclude, err := cfg.Exclusions()
	if err != nil {
		return nil, err
	}

	classifier := ipfilter.New(ipfilter.Options{
		MemoSize: cfg.Filter.MemoSize,
		Exclude:  exclude,
	})

	return collector.NewCycle(&collector.CycleConfig{
		LogPath:    cfg.LogPath,
		Window:     cfg.Window.Duration,
		Cursor:     logsource.NewTracker(cursor, logger),
		Parser:     logparse.New(logparse.Config{Normalizer: classifier, Logger: logger}),
		Classifier: classifier,
		Tracker:    cfg.TrackerOptions(),
		Logger:     logger,
	}), nil
}

func runExporter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup := logging.Setup(logging.Config{
		LogDir:  cfg.LogDir,
		Verbose: cfg.Verbose,
	})
	defer cleanup()

	if flagTest {
		return runTest(cmd.Context(), &cfg, logger)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, &cfg, logger)
	defer store.Close() //nolint:errcheck // best-effort on shutdown

	cursor, err := store.Load(ctx)
	if err != nil {
		logger.Warn("failed to load log cursor, starting from the beginning", "error", err)
		cursor = logsource.Cursor{}
	}

	cycle, err := newCycle(&cfg, logger, cursor)
	if err != nil {
		return err
	}

	agg := metrics.NewAggregator(cfg.Donor)
	self := metrics.NewSelfMetrics()

	srvCfg := &server.Config{
		ListenAddr:        cfg.ListenAddr(),
		Logger:            logger,
		Source:            agg,
		ReadHeaderTimeout: cfg.Timeouts.ReadHeader.Duration,
	}
	if cfg.SelfMetrics {
		srvCfg.Gatherer = self.Registry
	}
	srv := server.New(srvCfg)

	// Bind before collecting so a taken port fails fast.
	ln, err := srv.Listen()
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr(), err)
	}

	sched := collector.NewScheduler(&collector.SchedulerConfig{
		Cycle:      cycle,
		Aggregator: agg,
		Store:      store,
		Metrics:    self,
		Interval:   cfg.Interval.Duration,
		Logger:     logger,
	})

	logger.Info("usermetrics starting",
		"version", version.Full(),
		"addr", cfg.ListenAddr(),
		"log_path", cfg.LogPath,
		"interval", cfg.Interval.Duration,
		"window", cfg.Window.Duration,
		"donor", cfg.Donor,
		"state_backend", cfg.State.Backend,
		"self_metrics", cfg.SelfMetrics,
		"log_dir", cfg.LogDir,
		"verbose", cfg.Verbose,
	)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
			stop()
			<-schedDone
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Shutdown.Duration)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("collection cycle still running at shutdown")
	}

	logger.Info("usermetrics stopped")
	return nil
}

// openStore opens the configured cursor store, falling back to memory.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) state.Store {
	store, err := state.Open(ctx, cfg.StateOptions())
	if err != nil {
		logger.Error("failed to open state store, cursor will not persist",
			"backend", cfg.State.Backend,
			"error", err,
		)
		return state.NewMemory()
	}
	return store
}

// runTest runs one cycle from the start of the log and prints the counts.
func runTest(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	fmt.Printf("Testing log parsing from %s...\n", cfg.LogPath)

	cycle, err := newCycle(cfg, logger, logsource.Cursor{})
	if err != nil {
		return err
	}

	res, err := cycle.Run(ctx)
	if err != nil {
		fmt.Printf("Error during test: %v\n", err)
		return fmt.Errorf("test cycle: %w", err)
	}

	snap := metrics.Snapshot{
		UniqueClients:    res.Unique,
		TotalConnections: res.Total,
		BlockedCount:     res.Blocked,
	}

	fmt.Println()
	fmt.Println("Test results:")
	fmt.Printf("  File: %s\n", res.File)
	fmt.Printf("  Unique users: %d\n", res.Unique)
	fmt.Printf("  Total connections: %d\n", res.Total)
	fmt.Printf("  Blocked requests: %d\n", res.Blocked)
	fmt.Printf("  Blocked percentage: %.2f\n", snap.BlockedPercentage())
	fmt.Printf("  Filtered addresses: %d\n", res.Filtered)
	return nil
}
