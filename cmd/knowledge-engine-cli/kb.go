package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/learning"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// newKBCmd groups the learned knowledge base subcommands.
func newKBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect and maintain the learned knowledge base",
	}
	cmd.AddCommand(newKBListCmd(), newKBShowCmd(), newKBRetokenizeCmd())
	return cmd
}

func newKBListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge entries by confidence",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Repos.Knowledge.List(ctx, limit, offset)
			if err != nil {
				return fmt.Errorf("list knowledge: %w", err)
			}
			total, err := a.Repos.Knowledge.Count(ctx)
			if err != nil {
				return fmt.Errorf("count knowledge: %w", err)
			}

			if outputJSON {
				if entries == nil {
					entries = []*storage.KnowledgeEntry{}
				}
				return ui.JSON(map[string]interface{}{"total": total, "entries": entries})
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.ID.String()[:8],
					Truncate(e.Question, 44),
					fmt.Sprintf("%.2f", e.Confidence),
					strconv.Itoa(e.UseCount),
					fmt.Sprintf("%d/%d/%d", e.SuccessCount, e.EditCount, e.RejectCount),
					string(e.Source),
				})
			}
			ui.Table([]string{"ID", "QUESTION", "CONF", "USES", "OK/EDIT/REJ", "SOURCE"}, rows)
			ui.Info("%d of %d entries", len(entries), total)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}

func newKBShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one knowledge entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			e, err := a.Repos.Knowledge.GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("get entry %s: %w", id, err)
			}

			if outputJSON {
				return ui.JSON(e)
			}
			ui.Section("Knowledge entry")
			ui.KeyValue("ID", e.ID)
			ui.KeyValue("Question", e.Question)
			ui.KeyValue("Normalized", e.QuestionNormalized)
			ui.KeyValue("Tokens", e.QuestionTokens)
			ui.KeyValue("Answer", e.Answer)
			ui.KeyValue("Confidence", fmt.Sprintf("%.3f", e.Confidence))
			ui.KeyValue("Uses", e.UseCount)
			ui.KeyValue("Approved/Edited/Rejected", fmt.Sprintf("%d/%d/%d", e.SuccessCount, e.EditCount, e.RejectCount))
			ui.KeyValue("Source", e.Source)
			if e.LastUsedAt != nil {
				ui.KeyValue("Last used", e.LastUsedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newKBRetokenizeCmd() *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "retokenize",
		Short: "Find and repair entries tokenized with an older normalizer",
		Long: `Retokenize compares every entry's stored normalized question and tokens
with what the current normalizer produces. Without --apply it only reports.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			spin := ui.NewSpinner("Scanning knowledge entries")
			spin.Start()
			stale, err := a.TokenGuard.CheckStale(ctx)
			spin.Stop()
			if err != nil {
				return fmt.Errorf("scan knowledge: %w", err)
			}

			if !apply {
				if outputJSON {
					return ui.JSON(map[string]interface{}{"stale": len(stale), "entries": stale})
				}
				rows := make([][]string, 0, len(stale))
				for _, s := range stale {
					rows = append(rows, []string{s.EntryID.String()[:8], Truncate(s.Question, 44), strconv.FormatBool(s.NormalizedChanged())})
				}
				if len(rows) > 0 {
					ui.Table([]string{"ID", "QUESTION", "KEY CHANGED"}, rows)
				}
				ui.Info("%d stale entries; rerun with --apply to repair", len(stale))
				return nil
			}

			result, err := a.TokenGuard.Repair(ctx, stale, operator)
			if err != nil {
				return fmt.Errorf("repair: %w", err)
			}
			if outputJSON {
				return ui.JSON(result)
			}
			for _, e := range result.Errors {
				ui.Warning("%s", e)
			}
			ui.Success("Repaired %d entries, skipped %d", result.Repaired, result.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "rewrite stale entries")
	return cmd
}

// newLearnCmd teaches one question/answer pair directly.
func newLearnCmd() *cobra.Command {
	var (
		question   string
		answer     string
		intent     string
		category   string
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Add or merge a question/answer pair into the knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			meta := learning.Metadata{Source: storage.EntrySourceAdmin, Operator: operator}
			if intent != "" {
				meta.Intent = &intent
			}
			if category != "" {
				meta.Category = &category
			}
			if cmd.Flags().Changed("confidence") {
				meta.Confidence = &confidence
			}

			id, err := a.Learner.Learn(ctx, question, answer, meta)
			if err != nil {
				return err
			}
			entry, err := a.Repos.Knowledge.GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("reload entry: %w", err)
			}

			if outputJSON {
				return ui.JSON(entry)
			}
			ui.Success("Stored %s at confidence %.2f", id, entry.Confidence)
			return nil
		},
	}

	cmd.Flags().StringVar(&question, "question", "", "question text (required)")
	cmd.Flags().StringVar(&answer, "answer", "", "answer text (required)")
	cmd.Flags().StringVar(&intent, "intent", "", "optional intent label")
	cmd.Flags().StringVar(&category, "category", "", "optional category")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "initial confidence (default: configured default)")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}
