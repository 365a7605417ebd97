package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/recompile-bench/internal/bench"
	"github.com/hochfrequenz/recompile-bench/internal/config"
	"github.com/hochfrequenz/recompile-bench/internal/notify"
	"github.com/hochfrequenz/recompile-bench/internal/report"
	"github.com/hochfrequenz/recompile-bench/internal/resultstore"
)

var (
	configPath string
	appDir     string
	port       int
	rounds     int
	settleMs   int
	storePath  string
	quiet      bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "recompile-bench",
		Short: "Benchmark incremental recompilation of a dev server",
		Long: `recompile-bench starts a development server, applies a fixed sequence of
source edits, measures how long each incremental recompile takes by watching
the server's output, and reports the overall build duration from the
server's trace log.`,
		RunE: runBench,
	}

	runsCmd = &cobra.Command{
		Use:   "runs",
		Short: "List stored benchmark runs",
		RunE:  listRuns,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "SQLite database for run persistence")
	rootCmd.Flags().StringVar(&appDir, "app", "", "application directory to benchmark")
	rootCmd.Flags().IntVar(&port, "port", 0, "dev server port")
	rootCmd.Flags().IntVar(&rounds, "rounds", 0, "number of timed edits")
	rootCmd.Flags().IntVar(&settleMs, "settle", 0, "inter-edit settle delay in ms")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the server's own output")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "verbose harness logging")
	rootCmd.AddCommand(runsCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("app") {
		cfg.Bench.AppDir = config.ExpandPath(appDir)
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("rounds") {
		cfg.Bench.Rounds = rounds
	}
	if cmd.Flags().Changed("settle") {
		cfg.Bench.SettleDelayMs = settleMs
	}
	if cmd.Flags().Changed("quiet") {
		cfg.Server.Quiet = quiet
	}
	if storePath != "" {
		cfg.Store.Path = config.ExpandPath(storePath)
	}
	return cfg, nil
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notify.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notify.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notify.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(notifiers...)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Bench.AppDir == "" {
		return fmt.Errorf("no application directory: set --app or bench.app_dir")
	}

	notifier := buildNotifier(cfg)
	started := time.Now()

	h := bench.New(cfg, debug)
	result, err := h.Run(cmd.Context())
	if err != nil {
		notifier.Send(notify.Notification{
			Title:   "Benchmark failed",
			Message: err.Error(),
			Type:    notify.NotifyError,
		})
		return err
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Print(report.Render(result))
	} else {
		fmt.Print(report.Plain(result))
	}

	runID := ""
	if cfg.Store.Path != "" {
		store, err := resultstore.New(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer store.Close()
		run := &resultstore.Run{
			AppDir:          cfg.Bench.AppDir,
			StartedAt:       started,
			FinishedAt:      time.Now(),
			BuildDurationMs: result.BuildDurationMs,
			Samples:         result.Milestones,
		}
		if err := store.SaveRun(run); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		runID = run.ID
	}

	notifier.Send(notify.Notification{
		Title: "Benchmark finished",
		Message: fmt.Sprintf("next-build %.0f ms over %d edits in %s",
			result.BuildDurationMs, len(result.Milestones), cfg.Bench.AppDir),
		Type:  notify.NotifySuccess,
		RunID: runID,
	})
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("no store: set --store or store.path")
	}

	store, err := resultstore.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(20)
	if err != nil {
		return err
	}
	for _, run := range runs {
		fmt.Printf("%s  %-30s %10.1f ms  %s\n",
			run.ID, run.AppDir, run.BuildDurationMs, humanize.Time(run.StartedAt))
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
