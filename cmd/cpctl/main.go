// CivicPulse CLI - inspect and drive the report lifecycle from the terminal.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicpulse/civicpulse/internal/config"
	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/ledger"
	"github.com/civicpulse/civicpulse/internal/logging"
	"github.com/civicpulse/civicpulse/internal/reports"
	"github.com/civicpulse/civicpulse/internal/storage"
)

var (
	// Config
	configPath string
	dataDir    string

	// Version
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cpctl",
		Short: "CivicPulse - community report lifecycle control",
		Long: `cpctl manages a local CivicPulse database.

Reports stay ACTIVE while the community keeps confirming them. Once
feedback turns against a report for 7 days it becomes EXPIRING, and
3 days later EXPIRED. Use 'cpctl sweep' to apply elapsed holds.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")

	// Commands
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openService opens the database and wires the report service.
// The returned func closes the database.
func openService() (*reports.Service, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	// Keep CLI output clean unless asked otherwise
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	if level < logging.WARN {
		level = logging.WARN
	}
	logging.SetLevel(level)

	db, err := storage.Open(storage.Config{Path: cfg.DBPath()})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}

	svc := reports.NewService(db, reports.WithLedger(ledger.NewStore(db.Conn())))
	return svc, func() { db.Close() }, nil
}

// sweepCmd applies elapsed holds to every unsettled report
func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Reclassify every active and expiring report now",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			res, err := svc.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("🧹 Swept %d report(s) at %s\n", res.Scanned, res.At.Format(time.RFC3339))
			fmt.Printf("   Updated:    %d\n", res.Updated)
			fmt.Printf("   → expiring: %d\n", res.ToExpiring)
			fmt.Printf("   → expired:  %d\n", res.ToExpired)
			fmt.Printf("   Recovered:  %d\n", res.Recovered)
			for _, tr := range res.Transitions {
				fmt.Printf("   • %s %s → %s\n", tr.ReportID, tr.From, tr.To)
			}
			return nil
		},
	}
}

// listCmd lists reports
func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			kind, _ := cmd.Flags().GetString("kind")
			limit, _ := cmd.Flags().GetInt("limit")

			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			list, err := svc.List(cmd.Context(), storage.ListOptions{
				IncludeExpired: all,
				Kind:           core.Kind(kind),
				Limit:          limit,
			})
			if err != nil {
				return err
			}

			if len(list) == 0 {
				fmt.Println("No reports.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\t+/-\tTITLE")
			for _, r := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					r.ID, r.Kind, r.Status, r.PositiveFeedbackCount, r.NegativeFeedbackCount, r.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("all", false, "include expired reports")
	cmd.Flags().String("kind", "", "hazard, inconvenience or discovery")
	cmd.Flags().Int("limit", 50, "maximum number of reports")
	return cmd
}

// showCmd prints one report with its validity band and audit trail
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			id := core.ReportID(args[0])
			detail, err := svc.GetDetail(cmd.Context(), id)
			if errors.Is(err, core.ErrReportNotFound) {
				return fmt.Errorf("no report with id %s", id)
			}
			if err != nil {
				return err
			}

			r := detail.Report
			fmt.Printf("📍 %s (%s)\n", r.Title, r.Kind)
			if r.Description != "" {
				fmt.Printf("   %s\n", r.Description)
			}
			fmt.Println()
			fmt.Printf("   ID:       %s\n", r.ID)
			fmt.Printf("   Location: %.5f, %.5f\n", r.Location.Latitude, r.Location.Longitude)
			fmt.Printf("   Status:   %s\n", r.Status)
			fmt.Printf("   Feedback: %d positive / %d negative\n", r.PositiveFeedbackCount, r.NegativeFeedbackCount)
			printStamp("Degrading since", r.FeedbackConditionMetAt)
			printStamp("Expiring since", r.ExpiringAt)
			if detail.Validity.Band != "none" {
				fmt.Printf("   Validity: %s for %s\n", detail.Validity.Band, detail.Validity.SustainedFor.Round(time.Minute))
			}

			history, err := svc.History(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(history) > 0 {
				fmt.Println()
				fmt.Println("   History:")
				for _, e := range history {
					fmt.Printf("   %s  %-22s %-6s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Actor, e.Details)
				}
			}
			return nil
		},
	}
}

func printStamp(label string, t *time.Time) {
	if t == nil {
		return
	}
	fmt.Printf("   %s: %s\n", label, t.UTC().Format(time.RFC3339))
}

// createCmd submits a new report
func createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Submit a new report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			desc, _ := cmd.Flags().GetString("description")
			lat, _ := cmd.Flags().GetFloat64("lat")
			lng, _ := cmd.Flags().GetFloat64("lng")

			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			r, err := svc.Create(cmd.Context(), reports.NewReport{
				Kind:        core.Kind(kind),
				Title:       strings.Join(args, " "),
				Description: desc,
				Latitude:    lat,
				Longitude:   lng,
			})
			if err != nil {
				return err
			}

			fmt.Printf("✅ Report created: %s\n", r.ID)
			return nil
		},
	}
	cmd.Flags().String("kind", string(core.KindHazard), "hazard, inconvenience or discovery")
	cmd.Flags().String("description", "", "longer description")
	cmd.Flags().Float64("lat", 0, "latitude")
	cmd.Flags().Float64("lng", 0, "longitude")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lng")
	return cmd
}

// voteCmd records feedback on a report
func voteCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "vote <report-id> positive|negative",
		Short:     "Record a still-valid (positive) or resolved (negative) vote",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(core.VotePositive), string(core.VoteNegative)},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			r, err := svc.SubmitFeedback(cmd.Context(), core.ReportID(args[0]), core.Vote(args[1]))
			if errors.Is(err, core.ErrReportExpired) {
				return fmt.Errorf("report %s has expired and no longer accepts feedback", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Printf("🗳  Vote recorded: %d positive / %d negative, status %s\n",
				r.PositiveFeedbackCount, r.NegativeFeedbackCount, r.Status)
			return nil
		},
	}
}

// ledgerCmd inspects the audit ledger
func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Audit ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := svc.VerifyLedger(); err != nil {
				fmt.Println("❌ Ledger chain is broken")
				return err
			}
			fmt.Println("✅ Ledger chain verified")
			return nil
		},
	})

	return cmd
}

// checkCmd verifies the ledger and the vote counters together
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the audit ledger and vote counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openService()
			if err != nil {
				return err
			}
			defer closeDB()

			if err := svc.VerifyLedger(); err != nil {
				fmt.Println("❌ Ledger chain is broken")
				return err
			}
			fmt.Println("✅ Ledger chain verified")

			mismatches, err := svc.CheckCounters(cmd.Context())
			if err != nil {
				return err
			}
			if len(mismatches) == 0 {
				fmt.Println("✅ Vote counters match recorded feedback")
				return nil
			}
			for _, m := range mismatches {
				fmt.Printf("   %s  stored +%d/-%d  recorded +%d/-%d\n",
					m.ReportID, m.StoredPositive, m.StoredNegative, m.Positive, m.Negative)
			}
			return fmt.Errorf("%d report(s) with drifted vote counters", len(mismatches))
		},
	}
}

// configCmd shows or writes configuration
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration operations",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if format, _ := cmd.Flags().GetString("output"); format != "" {
				return writeOutput(cmd.OutOrStdout(), format, "config", cfg.Values())
			}
			fmt.Printf("data_dir:       %s\n", cfg.DataDir)
			fmt.Printf("database:       %s\n", cfg.DBPath())
			fmt.Printf("server:         %s\n", cfg.Addr())
			fmt.Printf("sweep.enabled:  %t\n", cfg.Sweep.Enabled)
			fmt.Printf("sweep.interval: %s\n", cfg.Sweep.Interval)
			fmt.Printf("log.level:      %s\n", cfg.Log.Level)
			return nil
		},
	}
	show.Flags().StringP("output", "o", "", "print as json, yaml or toml instead of text")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Println("✅ Configuration saved")
			return nil
		},
	})

	return cmd
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show CivicPulse version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CivicPulse %s\n", version)
		},
	}
}
