package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/ingest"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// newFAQCmd groups the curated FAQ subcommands.
func newFAQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "faq",
		Short: "Manage the curated FAQ list",
	}
	cmd.AddCommand(newFAQImportCmd(), newFAQListCmd(), newFAQAddCmd())
	return cmd
}

func newFAQImportCmd() *cobra.Command {
	var (
		format string
		prune  bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a YAML or CSV FAQ seed file",
		Long: `Import upserts every row of a seed file by (category, question).
Rows without a question or answer are reported and skipped. With --prune,
active FAQs that the file does not mention are deactivated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var bar *mpb.Bar
			progress := func(done, total int) {
				if bar == nil {
					bar = ui.ImportBar(filepath.Base(args[0]), int64(total))
				}
				if bar != nil {
					bar.SetCurrent(int64(done))
				}
			}

			result, err := a.Ingest.Import(ctx, ingest.ImportRequest{
				Path:     args[0],
				Format:   ingest.Format(format),
				Operator: operator,
				Prune:    prune,
				DryRun:   dryRun,
			}, progress)
			if bar != nil {
				bar.SetTotal(-1, true)
			}
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}

			if outputJSON {
				return ui.JSON(result)
			}

			ui.Section("FAQ import")
			ui.KeyValue("Job", result.JobID)
			ui.KeyValue("Parsed", result.Parsed)
			ui.KeyValue("Created", result.Created)
			ui.KeyValue("Updated", result.Updated)
			ui.KeyValue("Deactivated", result.Deactivated)
			ui.KeyValue("Rejected", result.Rejected)
			ui.KeyValue("Duration", FormatDuration(result.Duration))
			for _, w := range result.Warnings {
				ui.Warning("%s", w)
			}
			for _, e := range result.Errors {
				ui.Error("%s", e)
			}
			if dryRun {
				ui.Info("Dry run: nothing was written")
				return nil
			}
			ui.Success("Imported %d FAQ(s)", result.Created+result.Updated)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "seed format: yaml or csv (default: from extension)")
	cmd.Flags().BoolVar(&prune, "prune", false, "deactivate FAQs missing from the file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without writing")
	return cmd
}

func newFAQListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List FAQs in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var faqs []*storage.FaqEntry
			if all {
				faqs, err = a.Repos.FAQ.ListAll(ctx)
			} else {
				faqs, err = a.Repos.FAQ.ListActive(ctx)
			}
			if err != nil {
				return fmt.Errorf("list faqs: %w", err)
			}

			if outputJSON {
				if faqs == nil {
					faqs = []*storage.FaqEntry{}
				}
				return ui.JSON(faqs)
			}
			if len(faqs) == 0 {
				ui.Info("No FAQs found")
				return nil
			}

			rows := make([][]string, 0, len(faqs))
			for _, f := range faqs {
				rows = append(rows, []string{
					f.Category,
					Truncate(f.Question, 48),
					strconv.Itoa(f.Priority),
					strconv.Itoa(f.UseCount),
					strconv.FormatBool(f.Active),
					Truncate(strings.Join(f.Keywords, ","), 30),
				})
			}
			ui.Table([]string{"CATEGORY", "QUESTION", "PRIORITY", "USES", "ACTIVE", "KEYWORDS"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include inactive FAQs")
	return cmd
}

func newFAQAddCmd() *cobra.Command {
	var (
		faq      storage.FaqEntry
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a single FAQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			faq.Active = !inactive
			created, err := a.Ingest.Upsert(ctx, &faq, operator)
			if err != nil {
				return err
			}

			if outputJSON {
				return ui.JSON(map[string]interface{}{"created": created, "faq": faq})
			}
			verb := "Updated"
			if created {
				verb = "Created"
			}
			ui.Success("%s FAQ %s in %s", verb, faq.ID, faq.Category)
			return nil
		},
	}

	cmd.Flags().StringVar(&faq.Category, "category", ingest.DefaultCategory, "FAQ category")
	cmd.Flags().StringVar(&faq.Question, "question", "", "canonical question (required)")
	cmd.Flags().StringVar(&faq.Answer, "answer", "", "answer text (required)")
	cmd.Flags().StringSliceVar(&faq.Keywords, "keywords", nil, "comma-separated keywords")
	cmd.Flags().IntVar(&faq.Priority, "priority", 0, "higher wins ties")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "store the FAQ deactivated")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}
