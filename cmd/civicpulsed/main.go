// CivicPulse Daemon - serves the report API and runs the lifecycle sweep
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicpulse/civicpulse/internal/api"
	"github.com/civicpulse/civicpulse/internal/config"
	"github.com/civicpulse/civicpulse/internal/ledger"
	"github.com/civicpulse/civicpulse/internal/logging"
	"github.com/civicpulse/civicpulse/internal/reports"
	"github.com/civicpulse/civicpulse/internal/scheduler"
	"github.com/civicpulse/civicpulse/internal/storage"
)

var (
	configPath string
	dataDir    string
	host       string
	port       int
	logLevel   string
	noSweep    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "civicpulsed",
		Short:        "CivicPulse Daemon - community report lifecycle service",
		SilenceUsage: true,
		RunE:         runDaemon,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.json)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.Flags().StringVar(&host, "host", "", "HTTP listen host")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the periodic lifecycle sweep")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// Flags win over file and environment
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("host") {
		cfg.Server.Host = host
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if noSweep {
		cfg.Sweep.Enabled = false
	}

	return cfg, cfg.Validate()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	fmt.Println("🚀 Starting CivicPulse Daemon...")

	// Open database
	db, err := storage.Open(storage.Config{Path: cfg.DBPath()})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logging.WithField("path", cfg.DBPath()).Info("Database ready")

	audit := ledger.NewStore(db.Conn())
	hub := api.NewWebSocketHub()
	svc := reports.NewService(db,
		reports.WithLedger(audit),
		reports.WithNotifier(hub),
	)

	sched := scheduler.New(scheduler.DefaultConfig())
	if err := registerTasks(sched, svc, cfg); err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	if stop := watchConfig(cmd, cfg, sched, svc); stop != nil {
		defer stop()
	}

	server := api.New(api.Config{
		Addr:      cfg.Addr(),
		Reports:   svc,
		Ledger:    audit,
		Scheduler: sched,
		Hub:       hub,
	})

	// Handle shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\n🛑 Shutting down...")
		sched.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			logging.Error("Server shutdown: %v", err)
		}
	}()

	// Start server (blocks)
	return server.Start()
}

const sweepTaskID = "lifecycle-sweep"

func registerTasks(sched *scheduler.Scheduler, svc *reports.Service, cfg *config.Config) error {
	if err := applySweep(sched, svc, cfg.Sweep); err != nil {
		return err
	}

	verify := scheduler.DailyTask("ledger-verify", "Ledger verification", "04:00",
		func(ctx context.Context) error {
			if err := svc.VerifyLedger(); err != nil {
				logging.Error("Audit ledger failed verification: %v", err)
				return err
			}
			mismatches, err := svc.CheckCounters(ctx)
			if err != nil {
				return err
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d report(s) with drifted vote counters", len(mismatches))
			}
			return nil
		})
	return sched.Register(verify)
}

// applySweep replaces the sweep task to match sc. It is used at startup and
// again whenever the config file changes the sweep section.
func applySweep(sched *scheduler.Scheduler, svc *reports.Service, sc config.SweepConfig) error {
	if err := sched.Unregister(sweepTaskID); err != nil && !errors.Is(err, scheduler.ErrTaskNotFound) {
		return err
	}
	if !sc.Enabled {
		logging.Warn("Lifecycle sweep disabled; reports only change when voted on")
		return nil
	}

	sweep := scheduler.IntervalTask(sweepTaskID, "Lifecycle sweep", sc.Interval,
		func(ctx context.Context) error {
			res, err := svc.Sweep(ctx)
			if err != nil {
				return err
			}
			if res.Updated > 0 {
				logging.WithFields(map[string]interface{}{
					"scanned":     res.Scanned,
					"to_expiring": res.ToExpiring,
					"to_expired":  res.ToExpired,
					"recovered":   res.Recovered,
				}).Info("Sweep updated %d report(s)", res.Updated)
			}
			return nil
		})
	// Catch up on holds that elapsed while the sweep was not running
	sweep.RunOnStart = true
	if err := sched.Register(sweep); err != nil {
		return err
	}
	logging.Info("Lifecycle sweep every %s", sc.Interval)
	return nil
}

// watchConfig applies log level and sweep edits to the config file without
// a restart. Settings given as flags keep their flag value. Other settings
// need a restart to take effect.
func watchConfig(cmd *cobra.Command, cfg *config.Config, sched *scheduler.Scheduler, svc *reports.Service) func() {
	path := configPath
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}
	levelPinned := cmd.Flags().Changed("log-level")
	sweep := cfg.Sweep

	w, err := config.NewWatcher(path,
		func(next *config.Config) {
			if !levelPinned {
				level, err := logging.ParseLevel(next.Log.Level)
				if err != nil {
					logging.Warn("Ignoring log level reload: %v", err)
				} else {
					logging.SetLevel(level)
					logging.WithField("level", level.String()).Info("Log level reloaded")
				}
			}

			if noSweep {
				next.Sweep.Enabled = false
			}
			if next.Sweep == sweep {
				return
			}
			if err := next.Validate(); err != nil {
				logging.Warn("Ignoring sweep reload: %v", err)
				return
			}
			if err := applySweep(sched, svc, next.Sweep); err != nil {
				logging.Warn("Sweep reload failed: %v", err)
				return
			}
			sweep = next.Sweep
		},
		func(err error) {
			logging.Warn("Config reload failed: %v", err)
		})
	if err != nil {
		logging.Warn("Config watcher unavailable: %v", err)
		return nil
	}
	if err := w.Start(); err != nil {
		w.Stop()
		logging.Debug("Not watching %s: %v", path, err)
		return nil
	}
	return w.Stop
}
