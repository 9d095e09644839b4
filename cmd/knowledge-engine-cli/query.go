package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/app"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/responder"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/retrieval"
)

// newQueryCmd runs the two-tier lookup without touching use counts.
func newQueryCmd() *cobra.Command {
	var (
		file    string
		workers int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Look up a local answer without sending a reply",
		Long: `Query runs the FAQ and knowledge-base tiers for a question and prints the
match. With --file, every non-empty line of the file is answered concurrently
and a coverage summary is printed. Use counts are not modified.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" && len(args) == 0 {
				return fmt.Errorf("a question or --file is required")
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			engine := dryRunEngine(a)

			if file == "" {
				match, err := engine.FindAnswer(ctx, args[0])
				if err != nil {
					return fmt.Errorf("lookup: %w", err)
				}
				if outputJSON {
					return ui.JSON(map[string]interface{}{"question": args[0], "match": match})
				}
				printMatch(args[0], match)
				return nil
			}

			questions, err := readQuestions(file)
			if err != nil {
				return err
			}
			bar := ui.NewProgressBar(int64(len(questions)), "answering")
			results, err := retrieval.NewBatchProcessor(engine, workers, timeout).AnswerAll(ctx, questions, func() { bar.Add(1) })
			bar.Finish()
			if err != nil {
				ui.Warning("%v", err)
			}

			summary := retrieval.Summarize(results)
			if outputJSON {
				return ui.JSON(map[string]interface{}{"summary": summary, "hit_rate": summary.HitRate(), "results": results})
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				source, conf := "miss", ""
				switch {
				case r.Err != nil:
					source = "error"
				case r.Match != nil:
					source = string(r.Match.Source)
					conf = fmt.Sprintf("%.2f", r.Match.Confidence)
				}
				rows = append(rows, []string{Truncate(r.Question, 50), source, conf})
			}
			ui.Table([]string{"QUESTION", "SOURCE", "CONF"}, rows)
			ui.Section("Coverage")
			ui.KeyValue("Questions", summary.Total)
			ui.KeyValue("FAQ hits", summary.FAQHits)
			ui.KeyValue("Knowledge hits", summary.KnowledgeHits)
			ui.KeyValue("Misses", summary.Misses)
			ui.KeyValue("Errors", summary.Errors)
			ui.KeyValue("Hit rate", fmt.Sprintf("%.1f%%", summary.HitRate()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one question per line")
	cmd.Flags().IntVar(&workers, "workers", 5, "concurrent lookups for --file")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout for --file")
	return cmd
}

// dryRunEngine is the application's retrieval engine minus usage tracking.
func dryRunEngine(a *app.App) *retrieval.Engine {
	return retrieval.NewEngine(a.Repos.FAQ, a.Repos.Knowledge, a.Config.Learning, a.Logger,
		retrieval.WithFAQCache(a.FAQCache),
		retrieval.WithoutUsageTracking(),
	)
}

func printMatch(question string, match *retrieval.Match) {
	ui.KeyValue("Question", question)
	if match == nil {
		ui.Warning("No confident local answer; the model fallback would be used")
		return
	}
	ui.KeyValue("Source", match.Source)
	ui.KeyValue("Matched", match.Question)
	ui.KeyValue("Similarity", fmt.Sprintf("%.3f", match.Similarity))
	ui.KeyValue("Confidence", fmt.Sprintf("%.3f", match.Confidence))
	ui.KeyValue("Entry", match.EntryID)
	ui.KeyValue("Answer", match.Answer)
}

// readQuestions reads one question per line, skipping blanks and # comments.
func readQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var questions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return questions, nil
}

// newReplyCmd feeds a candidate message through the reply path, the same
// way the messaging gateway does.
func newReplyCmd() *cobra.Command {
	var (
		candidate string
		mode      string
		noReply   bool
	)

	cmd := &cobra.Command{
		Use:   "reply <message>",
		Short: "Process a candidate message and produce a logged reply",
		Long: `Reply first checks the message for implicit feedback on earlier
auto-sent replies to the candidate, then answers it through the full reply
path (FAQ, knowledge base, model fallback) and writes a response log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			outcomes := a.Responder.HandleInbound(ctx, candidate, args[0])
			for _, o := range outcomes {
				if o.Resolution != nil {
					ui.Info("Earlier reply %s resolved as %s (%s)", o.Pending.LogID, *o.Resolution, o.Classification.Signal)
				}
			}
			if noReply {
				if outputJSON {
					return ui.JSON(map[string]interface{}{"implicit": outcomes})
				}
				return nil
			}

			replyMode, err := responder.ParseMode(mode, a.Responder.DefaultMode())
			if err != nil {
				return err
			}
			reply, err := a.Responder.Reply(ctx, candidate, args[0], replyMode)
			if err != nil {
				return err
			}

			if outputJSON {
				return ui.JSON(map[string]interface{}{"implicit": outcomes, "reply": reply})
			}
			ui.KeyValue("Log", reply.LogID)
			ui.KeyValue("Source", reply.Source)
			ui.KeyValue("Confidence", fmt.Sprintf("%.3f", reply.Confidence))
			ui.KeyValue("Status", reply.Status)
			ui.KeyValue("Answer", reply.Answer)
			return nil
		},
	}

	cmd.Flags().StringVar(&candidate, "candidate", "", "candidate id (required)")
	cmd.Flags().StringVar(&mode, "mode", "", "auto or suggest (default: configured mode)")
	cmd.Flags().BoolVar(&noReply, "feedback-only", false, "only run implicit feedback detection")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}
