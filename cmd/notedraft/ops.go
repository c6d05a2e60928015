package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/notedraft/internal/app"
	"github.com/ibeckermayer/notedraft/internal/types"
)

var outcomesLimit int

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Show recent job outcomes for an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			outs, err := a.ListOutcomes(ctx, acc, outcomesLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIRED\tSCHEDULE\tRESULT\tDETAIL")
			for _, o := range outs {
				result, detail := "ok", o.ResultURL
				if !o.Success {
					result, detail = o.ErrorKind, o.ErrorMessage
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", formatTime(o.FiredAt), orDash(o.ScheduleID), result, detail)
			}
			return w.Flush()
		})
	},
}

func printOutcome(o types.PostOutcome) {
	if o.Success {
		fmt.Printf("Draft saved: %s\n", o.ResultURL)
		if o.ArticleID > 0 {
			fmt.Printf("Article: #%d\n", o.ArticleID)
		}
		return
	}
	fmt.Printf("Failed (%s): %s\n", o.ErrorKind, o.ErrorMessage)
}

var trendsFlags struct {
	limit   int
	noCache bool
}

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show current trending keywords",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ts, err := a.Trends(ctx, trendsFlags.limit, !trendsFlags.noCache)
			if err != nil {
				return err
			}
			for i, t := range ts {
				if t.Weight != nil {
					fmt.Printf("%2d. %s (%d)\n", i+1, t.Keyword, *t.Weight)
				} else {
					fmt.Printf("%2d. %s\n", i+1, t.Keyword)
				}
			}
			return nil
		})
	},
}

var artifactsLimit int

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "List the newest failure screenshots for an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			paths, err := a.Artifacts(acc, artifactsLimit)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		})
	},
}

var loginInteractive bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in by hand in a visible browser and store the session cookies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !loginInteractive {
				return testLogin(ctx, a, acc)
			}
			ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()
			fmt.Println("Complete the login in the browser window...")
			if err := a.InteractiveLogin(ctx, acc); err != nil {
				return err
			}
			fmt.Printf("Cookies saved to %s\n", a.CookieStore(acc).Path())
			return nil
		})
	},
}

var loginTestCmd = &cobra.Command{
	Use:   "login-test",
	Short: "Check that an account's stored credentials can sign in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return testLogin(ctx, a, acc)
		})
	},
}

func testLogin(ctx context.Context, a *app.App, acc string) error {
	ok, err := a.TestLogin(ctx, acc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("login for %s did not succeed", acc)
	}
	fmt.Println("Login OK")
	return nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget an account's session and stored cookies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Logout(ctx, acc)
		})
	},
}

func init() {
	outcomesCmd.Flags().IntVarP(&outcomesLimit, "limit", "n", 20, "number of outcomes to show")
	artifactsCmd.Flags().IntVarP(&artifactsLimit, "limit", "n", 10, "number of screenshots")
	trendsCmd.Flags().IntVarP(&trendsFlags.limit, "limit", "n", 20, "number of keywords")
	trendsCmd.Flags().BoolVar(&trendsFlags.noCache, "no-cache", false, "fetch fresh trends")
	loginCmd.Flags().BoolVar(&loginInteractive, "interactive", true, "open a visible browser for a manual login")
}
