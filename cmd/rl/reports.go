package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reportline/internal/app"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/repo"
	"reportline/internal/session"
	"reportline/internal/summary"
)

func reportCmd() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Fill and browse store reports"}
	report.AddCommand(reportListCmd())
	report.AddCommand(reportShowCmd())
	report.AddCommand(reportFillCmd())
	report.AddCommand(reportDeleteCmd())
	return report
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	var completed string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch completed {
			case "":
			case "true", "false":
				v := completed == "true"
				f.Completed = &v
			default:
				return fmt.Errorf("--completed must be true or false")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reports, err := e.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := newTable("ID", "Store", "Template", "Completed", "Submitted")
				for _, r := range reports {
					submitted := ""
					if r.SubmittedAt != nil {
						submitted = *r.SubmittedAt
					}
					tw.AppendRow(table.Row{r.ID, r.StoreID, r.TemplateID, r.Completed, submitted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StoreID, "store", "", "store id")
	cmd.Flags().StringVar(&f.TemplateID, "template", "", "template id")
	cmd.Flags().StringVar(&completed, "completed", "", "true|false")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max reports")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report with its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				t, err := e.GetTemplate(ctx, r.TemplateID)
				if err != nil {
					return err
				}
				status := "pending"
				if r.Completed {
					status = "completed"
				}
				fmt.Printf("%s  %s  store=%s  %s\n\n", r.ID, t.Title, r.StoreID, status)
				answers := session.AnswerStoreFrom(r.Answers)
				tw := newTable("#", "Question", "Answer")
				for i, q := range domain.SortedQuestions(&t) {
					tw.AppendRow(table.Row{i + 1, q.Text, answerText(answers, q)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteReport(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted report %s\n", args[0])
				return nil
			})
		},
	}
}

func reportFillCmd() *cobra.Command {
	var storeID, templateID, reportID string
	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Answer a report interactively",
		Long: `Walks the template one question at a time, then shows a review.
Press enter to keep the current answer. Commands:
  :prev       previous question
  :jump N     revisit question N
  :clear      clear the current answer
  :review     list all answers so far
  :back       leave review for the last question
  :submit     submit from review
  :quit       discard the session`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reportID == "" && storeID == "" {
				return errors.New("--store or --report is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					s   *session.Session
					err error
				)
				if reportID != "" {
					s, err = e.EditReport(ctx, reportID)
				} else {
					s, err = e.StartReport(ctx, storeID, templateID)
				}
				if err != nil {
					return err
				}
				r, err := fill(ctx, os.Stdin, os.Stdout, s, e)
				if err != nil {
					return err
				}
				fmt.Printf("Report %s submitted\n", r.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&storeID, "store", "", "store id")
	cmd.Flags().StringVar(&templateID, "template", "", "template id (default: the store's assigned template)")
	cmd.Flags().StringVar(&reportID, "report", "", "existing report to edit")
	return cmd
}

var errFillAborted = errors.New("report discarded")

// fill drives a session from line input until it is submitted.
func fill(ctx context.Context, in io.Reader, out io.Writer, s *session.Session, sub session.Submitter) (domain.Report, error) {
	scanner := bufio.NewScanner(in)
	questions := s.Questions()
	for {
		var prompt string
		switch st := s.State().(type) {
		case session.Guided:
			q := questions[st.Index]
			printQuestion(out, st.Index, len(questions), q, s.Answers())
			prompt = "> "
		case session.Review:
			printReview(out, s)
			prompt = "review> "
		default:
			return domain.Report{}, fmt.Errorf("unexpected state %s", st.Name())
		}
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return domain.Report{}, err
			}
			return domain.Report{}, errFillAborted
		}
		line := scanner.Text()
		cmd := strings.Fields(strings.TrimSpace(line))
		var err error
		switch {
		case len(cmd) > 0 && strings.HasPrefix(cmd[0], ":"):
			var report domain.Report
			var done bool
			report, done, err = fillCommand(ctx, out, s, sub, cmd)
			if done {
				return report, err
			}
		default:
			err = answerLine(s, line)
		}
		if err != nil {
			fmt.Fprintf(out, "! %s\n", err)
		}
	}
}

func fillCommand(ctx context.Context, out io.Writer, s *session.Session, sub session.Submitter, cmd []string) (domain.Report, bool, error) {
	switch cmd[0] {
	case ":prev":
		return domain.Report{}, false, s.Previous()
	case ":back":
		return domain.Report{}, false, s.BackToGuided()
	case ":jump":
		if len(cmd) != 2 {
			return domain.Report{}, false, errors.New("usage: :jump N")
		}
		n, err := strconv.Atoi(cmd[1])
		if err != nil {
			return domain.Report{}, false, fmt.Errorf("invalid question number %q", cmd[1])
		}
		return domain.Report{}, false, s.JumpTo(n - 1)
	case ":clear":
		q, ok := s.Current()
		if !ok {
			return domain.Report{}, false, errors.New(":clear needs a current question")
		}
		return domain.Report{}, false, s.ClearAnswer(q.ID)
	case ":review":
		if _, ok := s.State().(session.Guided); ok {
			printReview(out, s)
		}
		return domain.Report{}, false, nil
	case ":submit":
		r, err := s.Submit(ctx, sub)
		if err != nil {
			return domain.Report{}, false, err
		}
		return r, true, nil
	case ":quit":
		return domain.Report{}, true, errFillAborted
	}
	return domain.Report{}, false, fmt.Errorf("unknown command %s", cmd[0])
}

// answerLine stores the typed answer and advances. An empty line keeps the
// current answer.
func answerLine(s *session.Session, line string) error {
	q, ok := s.Current()
	if !ok {
		return errors.New("use :submit, :back or :jump N")
	}
	if strings.TrimSpace(line) != "" {
		if q.Type != domain.QuestionText {
			line = strings.TrimSpace(line)
		}
		if err := s.SetInput(q.ID, line); err != nil {
			return err
		}
	}
	return s.Next()
}

func printQuestion(out io.Writer, idx, total int, q domain.Question, answers *session.AnswerStore) {
	marker := ""
	if q.Required {
		marker = " *"
	}
	fmt.Fprintf(out, "\n[%d/%d] %s%s (%s)\n", idx+1, total, q.Text, marker, q.Type)
	for i, opt := range q.Options {
		fmt.Fprintf(out, "  %d) %s\n", i+1, opt)
	}
	if v := answerText(answers, q); v != "" {
		fmt.Fprintf(out, "  current: %s\n", v)
	}
}

func printReview(out io.Writer, s *session.Session) {
	fmt.Fprintln(out, "\nReview")
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"#", "Question", "Answer"})
	for i, q := range s.Questions() {
		text := q.Text
		if q.Required {
			text += " *"
		}
		tw.AppendRow(table.Row{i + 1, text, answerText(s.Answers(), q)})
	}
	tw.Render()
	if v := s.Verdict(); !v.OK {
		fmt.Fprintf(out, "%d required question(s) unanswered\n", len(v.Missing))
	}
}

func answerText(answers *session.AnswerStore, q domain.Question) string {
	v, ok := answers.Get(q.ID)
	if !ok || !session.Present(q, v) {
		return ""
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func summaryCmd() *cobra.Command {
	var (
		question string
		storeIDs []string
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize reports with the configured LLM",
		Long: `Without --ask, writes an overview of trends across the selected reports.
With --ask, answers a single question about them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f summary.Filter
			var err error
			if f.From, err = parseDate(from, false); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if f.To, err = parseDate(to, true); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			f.StoreIDs = storeIDs
			return withRuntime(cmd.Context(), viper.GetString("user-id"), func(ctx context.Context, rt *app.Runtime) error {
				svc, err := rt.SummaryService()
				if err != nil {
					return err
				}
				mode := summary.ModeSummary
				var messages []summary.Message
				if strings.TrimSpace(question) != "" {
					mode = summary.ModeChat
					messages = []summary.Message{{Role: "user", Content: question}}
				}
				msg, err := svc.Summarize(ctx, mode, messages, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msg)
				}
				fmt.Println(msg.Content)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&question, "ask", "", "question to answer from the reports")
	cmd.Flags().StringSliceVar(&storeIDs, "store", nil, "limit to store ids")
	cmd.Flags().StringVar(&from, "from", "", "reports submitted on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "reports submitted on or before (YYYY-MM-DD)")
	return cmd
}

func parseDate(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(session.DateLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}
