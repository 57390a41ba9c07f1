package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicpulse/civicpulse/internal/core"
	"github.com/civicpulse/civicpulse/internal/lifecycle"
)

// classifyCmd runs the classifier over a JSON file without touching the database
func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <reports.json>",
		Short: "Classify a JSON array of reports offline",
		Long: `Reads a JSON array of reports (use - for stdin), applies the lifecycle
classifier and validity tracker at one instant, and prints the result.

--now accepts RFC 3339 or unix milliseconds; it defaults to the current time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nowFlag, _ := cmd.Flags().GetString("now")
			lifecycleOnly, _ := cmd.Flags().GetBool("lifecycle-only")

			now, err := parseNow(nowFlag, time.Now())
			if err != nil {
				return err
			}

			var in io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			out, err := classifyReports(in, now, lifecycleOnly)
			if err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("output")
			return writeOutput(cmd.OutOrStdout(), format, "reports", out)
		},
	}
	cmd.Flags().String("now", "", "evaluation instant (RFC 3339 or unix ms)")
	cmd.Flags().Bool("lifecycle-only", false, "skip the validity sustain tracker")
	cmd.Flags().StringP("output", "o", formatJSON, "output format: json, yaml or toml")
	return cmd
}

// parseNow accepts RFC 3339 or unix milliseconds; empty means fallback.
func parseNow(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return time.UnixMilli(fallback.UnixMilli()).UTC(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now must be RFC 3339 or unix milliseconds: %q", s)
	}
	return time.UnixMilli(t.UnixMilli()).UTC(), nil
}

func classifyReports(in io.Reader, now time.Time, lifecycleOnly bool) ([]core.Report, error) {
	var batch []core.Report
	if err := json.NewDecoder(in).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}

	for i, r := range batch {
		if r.Status == "" {
			batch[i].Status = core.StatusActive
		} else if !r.Status.Valid() {
			return nil, fmt.Errorf("report %d (%s): unknown status %q", i, r.ID, r.Status)
		}
		if r.PositiveFeedbackCount < 0 || r.NegativeFeedbackCount < 0 {
			return nil, fmt.Errorf("report %d (%s): feedback counts must be non-negative", i, r.ID)
		}
	}

	if lifecycleOnly {
		return lifecycle.ApplyToAll(batch, now), nil
	}
	return lifecycle.RefreshAll(batch, now), nil
}
