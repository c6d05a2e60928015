package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/notedraft/internal/app"
	"github.com/ibeckermayer/notedraft/internal/scheduler"
	"github.com/ibeckermayer/notedraft/internal/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage posting schedules",
	Long: `Manage posting schedules.

Weekdays are numbered from Monday=0 to Sunday=6; names such as "mon" or
"月" are accepted too. Times are HH:MM in the configured timezone.

Examples:
  notedraft schedule add -a main --daily --at 07:30 --topic 朝活
  notedraft schedule add -a main --weekly --day fri --at 18:00 --article 3
  notedraft schedule pause -a main <id>`,
}

var addFlags struct {
	daily      bool
	weekly     bool
	day        string
	at         string
	article    int64
	topic      string
	trend      string
	tone       string
	length     string
	conditions string
	prompt     string
	provider   string
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a daily or weekly schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		spec, err := buildSpec(acc)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := a.AddSchedule(ctx, spec)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

func buildSpec(acc string) (scheduler.Spec, error) {
	f := addFlags
	spec := scheduler.Spec{AccountID: acc, FireTime: f.at}
	switch {
	case f.daily == f.weekly:
		return spec, fmt.Errorf("exactly one of --daily or --weekly is required")
	case f.daily:
		spec.Cadence = types.Daily
	default:
		spec.Cadence = types.Weekly
		d, err := parseWeekday(f.day)
		if err != nil {
			return spec, err
		}
		spec.DayOfWeek = &d
	}

	if f.article > 0 {
		spec.Job = types.JobSpec{Kind: types.RepostExisting, ArticleID: f.article}
		return spec, nil
	}
	spec.Job = types.JobSpec{
		Kind:            types.GenerateThenPost,
		Topic:           f.topic,
		TrendKeyword:    f.trend,
		Tone:            f.tone,
		Length:          f.length,
		OtherConditions: f.conditions,
		CustomPrompt:    f.prompt,
		Provider:        f.provider,
	}
	return spec, nil
}

var weekdayNames = map[string]types.Weekday{
	"mon": 0, "tue": 1, "wed": 2, "thu": 3, "fri": 4, "sat": 5, "sun": 6,
	"月": 0, "火": 1, "水": 2, "木": 3, "金": 4, "土": 5, "日": 6,
}

func parseWeekday(s string) (types.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("--day is required for weekly schedules")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return types.Weekday(n), nil
	}
	if len(s) > 3 {
		if d, ok := weekdayNames[s[:3]]; ok {
			return d, nil
		}
	}
	if d, ok := weekdayNames[strings.TrimSuffix(s, "曜日")]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			infos, err := a.ListSchedules(ctx, acc)
			if err != nil {
				return err
			}
			printSchedules(infos)
			return nil
		})
	},
}

func printSchedules(infos []scheduler.ScheduleInfo) {
	if len(infos) == 0 {
		fmt.Println("No schedules.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWHEN\tJOB\tSTATUS\tNEXT\tLAST")
	for _, s := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, describeWhen(s.Schedule), describeJob(s.Job), s.Status, formatTime(s.NextRun), formatTime(s.LastRun))
	}
	w.Flush()
}

func describeWhen(s types.Schedule) string {
	if s.Cadence == types.Weekly && s.DayOfWeek != nil {
		return fmt.Sprintf("weekly %s %s", s.DayOfWeek, s.FireTime)
	}
	return fmt.Sprintf("daily %s", s.FireTime)
}

func describeJob(j types.JobSpec) string {
	if j.Kind == types.RepostExisting {
		return fmt.Sprintf("repost #%d", j.ArticleID)
	}
	switch {
	case j.CustomPrompt != "":
		return "generate (custom prompt)"
	case j.Topic != "":
		return fmt.Sprintf("generate %q", j.Topic)
	case j.TrendKeyword != "":
		return fmt.Sprintf("generate trend %q", j.TrendKeyword)
	}
	return "generate (top trend)"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

// idCommand builds a subcommand that acts on one schedule id.
func idCommand(use, short string, fn func(ctx context.Context, a *app.App, acc, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := requireAccount()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return fn(ctx, a, acc, args[0])
			})
		},
	}
}

var scheduleRemoveCmd = idCommand("remove", "Delete a schedule", func(ctx context.Context, a *app.App, acc, id string) error {
	return a.RemoveSchedule(ctx, acc, id)
})

var schedulePauseCmd = idCommand("pause", "Pause a schedule", func(ctx context.Context, a *app.App, acc, id string) error {
	return a.PauseSchedule(ctx, acc, id)
})

var scheduleResumeCmd = idCommand("resume", "Resume a paused schedule", func(ctx context.Context, a *app.App, acc, id string) error {
	return a.ResumeSchedule(ctx, acc, id)
})

var runNowCmd = idCommand("run-now", "Run a schedule's job immediately", func(ctx context.Context, a *app.App, acc, id string) error {
	out, err := a.RunNow(ctx, acc, id)
	if err != nil {
		return err
	}
	printOutcome(out)
	if !out.Success {
		return fmt.Errorf("job failed: %s", out.ErrorKind)
	}
	return nil
})

func init() {
	f := scheduleAddCmd.Flags()
	f.BoolVar(&addFlags.daily, "daily", false, "fire every day")
	f.BoolVar(&addFlags.weekly, "weekly", false, "fire once a week on --day")
	f.StringVar(&addFlags.day, "day", "", "weekday for weekly schedules (0=Monday, or mon..sun)")
	f.StringVar(&addFlags.at, "at", "", "fire time HH:MM")
	f.Int64Var(&addFlags.article, "article", 0, "repost this stored article instead of generating")
	f.StringVar(&addFlags.topic, "topic", "", "topic for generated articles")
	f.StringVar(&addFlags.trend, "trend", "", "trend keyword to weave into the article")
	f.StringVar(&addFlags.tone, "tone", "", "tone override")
	f.StringVar(&addFlags.length, "length", "", "length override, e.g. 2000-3000")
	f.StringVar(&addFlags.conditions, "conditions", "", "extra writing conditions")
	f.StringVar(&addFlags.prompt, "prompt", "", "custom prompt replacing the built-in one")
	f.StringVar(&addFlags.provider, "provider", "", "LLM provider override")
	_ = scheduleAddCmd.MarkFlagRequired("at")

	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd, scheduleRemoveCmd, schedulePauseCmd, scheduleResumeCmd)
}
