package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/monitoring"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

func newStatsCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge-base hit rate, approvals and cost savings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Metrics.GetStatsForDays(ctx, days)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			if outputJSON {
				return ui.JSON(stats)
			}

			ui.Section(fmt.Sprintf("Last %d days (%s to %s)", stats.Days, stats.From, stats.To))
			ui.KeyValue("Knowledge hits", stats.KBHits)
			ui.KeyValue("Model calls", stats.LLMCalls)
			ui.KeyValue("Hit rate", fmt.Sprintf("%.1f%%", stats.HitRate))
			ui.KeyValue("Approved/Edited/Rejected", fmt.Sprintf("%d/%d/%d", stats.Accepted, stats.Edited, stats.Rejected))
			ui.KeyValue("Implicit approved/rejected", fmt.Sprintf("%d/%d", stats.ImplicitApproved, stats.ImplicitRejected))
			ui.KeyValue("Approval rate", fmt.Sprintf("%.1f%%", stats.ApprovalRate))
			ui.KeyValue("Avg confidence", fmt.Sprintf("%.3f", stats.AvgConfidence))
			ui.KeyValue("Estimated cost saved", fmt.Sprintf("$%.4f", stats.EstimatedCostSaved))

			if len(stats.Series) > 0 {
				rows := make([][]string, 0, len(stats.Series))
				for _, d := range stats.Series {
					rows = append(rows, []string{d.Day, fmt.Sprint(d.KBHits), fmt.Sprint(d.LLMCalls), fmt.Sprint(d.SuggestionsAccepted), fmt.Sprint(d.SuggestionsRejected)})
				}
				ui.Table([]string{"DAY", "KB HITS", "MODEL", "ACCEPTED", "REJECTED"}, rows)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "trailing window in days")
	return cmd
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending implicit feedback older than the window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Sweeper.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			if outputJSON {
				return ui.JSON(result)
			}
			ui.Success("Expired %d pending record(s); %d still open", result.Expired, result.StillOpen)
			return nil
		},
	}
}

// newExportTrainingCmd writes approved pairs as JSON lines.
func newExportTrainingCmd() *cobra.Command {
	var (
		output string
		since  time.Duration
		batch  int
	)

	cmd := &cobra.Command{
		Use:   "export-training",
		Short: "Export approved question/answer pairs as JSONL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().UTC().Add(-since)
			}
			total, err := a.Repos.Training.Count(ctx, from)
			if err != nil {
				return fmt.Errorf("count training records: %w", err)
			}

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			buf := bufio.NewWriter(w)
			written, err := exportTraining(ctx, a.Repos.Training, from, batch, total, buf)
			if err != nil {
				return err
			}
			if err := buf.Flush(); err != nil {
				return fmt.Errorf("write export: %w", err)
			}

			if output != "" && output != "-" {
				ui.Success("Exported %d training record(s) to %s", written, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (default: stdout)")
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this, e.g. 720h")
	cmd.Flags().IntVar(&batch, "batch", 500, "records fetched per page")
	return cmd
}

func exportTraining(ctx context.Context, repo *storage.TrainingRepository, from time.Time, batch, total int, w io.Writer) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	bar := ui.NewProgressBar(int64(total), "exporting")
	defer bar.Finish()

	enc := json.NewEncoder(w)
	written := 0
	for offset := 0; ; offset += batch {
		records, err := repo.List(ctx, from, batch, offset)
		if err != nil {
			return written, fmt.Errorf("list training records: %w", err)
		}
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return written, fmt.Errorf("encode record: %w", err)
			}
			written++
			bar.Add(1)
		}
		if len(records) < batch {
			return written, nil
		}
	}
}

// newEventsCmd tails the audit channel. It needs the redis cache driver.
func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream knowledge-base audit events published on Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.Redis == nil {
				return fmt.Errorf("events require cache.driver=redis (current: %s)", cfg.Cache.Driver)
			}
			ch, unsubscribe, err := a.Redis.Subscribe(ctx, monitoring.DefaultAuditChannel)
			if err != nil {
				return err
			}
			defer unsubscribe()

			ui.Info("Listening on %s, Ctrl-C to stop", monitoring.DefaultAuditChannel)
			for payload := range ch {
				if outputJSON {
					fmt.Println(string(payload))
					continue
				}
				var event monitoring.AuditEvent
				if err := json.Unmarshal(payload, &event); err != nil {
					ui.Warning("undecodable event: %s", payload)
					continue
				}
				ui.Step("%s %s %s %s by %s", event.OccurredAt.Format(time.TimeOnly), event.Action, event.ResourceType, event.ResourceID, event.Operator)
			}
			return nil
		},
	}
}
