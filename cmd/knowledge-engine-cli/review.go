package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

func newLogsCmd() *cobra.Command {
	var (
		status    string
		candidate string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List response logs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.Repos.Logs.List(ctx, storage.ResponseLogFilter{
				Status:      storage.LogStatus(status),
				CandidateID: candidate,
				Limit:       limit,
				Offset:      offset,
			})
			if err != nil {
				return fmt.Errorf("list logs: %w", err)
			}

			if outputJSON {
				if logs == nil {
					logs = []*storage.ResponseLog{}
				}
				return ui.JSON(logs)
			}
			if len(logs) == 0 {
				ui.Info("No response logs found")
				return nil
			}

			rows := make([][]string, 0, len(logs))
			for _, l := range logs {
				rows = append(rows, []string{
					l.ID.String(),
					l.CreatedAt.Format("01-02 15:04"),
					l.CandidateID,
					Truncate(l.IncomingMessage, 36),
					string(l.Source),
					fmt.Sprintf("%.2f", l.Confidence),
					string(l.Status),
				})
			}
			ui.Table([]string{"ID", "AT", "CANDIDATE", "MESSAGE", "SOURCE", "CONF", "STATUS"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (generated, sent, edited, rejected, dismissed)")
	cmd.Flags().StringVar(&candidate, "candidate", "", "filter by candidate id")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum logs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "logs to skip")
	return cmd
}

func newFeedbackCmd() *cobra.Command {
	var (
		action string
		edited string
	)

	cmd := &cobra.Command{
		Use:   "feedback <log-id>",
		Short: "Approve, edit, reject or dismiss a generated reply",
		Long: `Feedback records the review decision on a response log. Approving or
editing a model answer teaches it to the knowledge base; decisions on
knowledge-base answers adjust the entry's confidence.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid log id %q", args[0])
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var editedAnswer *string
			if cmd.Flags().Changed("edited") {
				editedAnswer = &edited
			}
			if err := a.Feedback.RecordFeedback(ctx, logID, storage.FeedbackAction(action), editedAnswer, operator); err != nil {
				return err
			}

			l, err := a.Repos.Logs.GetByID(ctx, logID)
			if err != nil {
				ui.Warning("Log %s not found; nothing recorded", logID)
				return nil
			}
			if outputJSON {
				return ui.JSON(l)
			}
			ui.Success("Log %s is now %s", l.ID, l.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "approved, edited, rejected or dismissed (required)")
	cmd.Flags().StringVar(&edited, "edited", "", "replacement answer for --action edited")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}
