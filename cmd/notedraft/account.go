package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/notedraft/internal/app"
	"github.com/ibeckermayer/notedraft/internal/generator"
	"github.com/ibeckermayer/notedraft/internal/types"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage note.com accounts and their generation defaults",
}

var accountFlags struct {
	login      string
	secret     string
	provider   string
	tone       string
	length     string
	conditions string
}

var accountSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace an account's settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		secret := accountFlags.secret
		if secret == "" {
			secret = os.Getenv("NOTEDRAFT_SECRET")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.SaveAccount(ctx, types.Settings{
				AccountID:   acc,
				LoginID:     accountFlags.login,
				LoginSecret: secret,
				Provider:    accountFlags.provider,
				Prompt: types.PromptDefaults{
					Tone:            accountFlags.tone,
					Length:          accountFlags.length,
					OtherConditions: accountFlags.conditions,
				},
			})
		})
	},
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			accounts, err := a.ListAccounts(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACCOUNT\tLOGIN\tPROVIDER\tCOOKIES")
			for _, s := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s.AccountID, s.LoginID, orDash(s.Provider), a.Authenticated(s.AccountID))
			}
			return w.Flush()
		})
	},
}

var articleCmd = &cobra.Command{
	Use:   "article",
	Short: "Manage stored articles",
}

var articleFlags struct {
	title string
	file  string
}

var articleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store an article for reposting (body from --file or stdin)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		body, err := readBody(articleFlags.file)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			art, err := a.AddArticle(ctx, acc, articleFlags.title, body)
			if err != nil {
				return err
			}
			fmt.Println(art.ID)
			return nil
		})
	},
}

func readBody(path string) (string, error) {
	if path == "" || path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}

var articleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an account's articles, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			arts, err := a.ListArticles(ctx, acc)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tTOPIC\tCREATED\tPOSTED")
			for _, art := range arts {
				posted := "-"
				if art.PostedAt != nil {
					posted = formatTime(*art.PostedAt)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", art.ID, art.Title, orDash(art.Topic), formatTime(art.CreatedAt), posted)
			}
			return w.Flush()
		})
	},
}

var generateFlags struct {
	theme      string
	trend      string
	prompt     string
	tone       string
	length     string
	conditions string
	provider   string
}

var articleGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and store an article without posting it",
	Long: `Generate an article from a theme, a trending keyword or a custom prompt
and store it for later posting. With none of them the top trend is used.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		acc, err := requireAccount()
		if err != nil {
			return err
		}
		f := generateFlags
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			art, err := a.GenerateArticle(ctx, acc, types.JobSpec{
				Topic:           f.theme,
				TrendKeyword:    f.trend,
				CustomPrompt:    f.prompt,
				Tone:            f.tone,
				Length:          f.length,
				OtherConditions: f.conditions,
				Provider:        f.provider,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Article #%d: %s\n", art.ID, art.Title)
			return nil
		})
	},
}

// articleCommand builds a subcommand that acts on one article id.
func articleCommand(use, short string, fn func(ctx context.Context, a *app.App, acc string, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acc, err := requireAccount()
			if err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid article id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return fn(ctx, a, acc, id)
			})
		},
	}
}

var articlePostCmd = articleCommand("post", "Save a stored article as a note.com draft now", func(ctx context.Context, a *app.App, acc string, id int64) error {
	out, err := a.PostArticle(ctx, acc, id)
	if err != nil {
		return err
	}
	printOutcome(out)
	if !out.Success {
		return fmt.Errorf("post failed: %s", out.ErrorKind)
	}
	return nil
})

var articleDeleteCmd = articleCommand("delete", "Delete a stored article", func(ctx context.Context, a *app.App, acc string, id int64) error {
	return a.DeleteArticle(ctx, acc, id)
})

var xPostProvider string

var articleXPostCmd = articleCommand("x-post", "Draft an X post promoting a stored article", func(ctx context.Context, a *app.App, acc string, id int64) error {
	post, err := a.XPost(ctx, acc, id, xPostProvider)
	if err != nil {
		return err
	}
	fmt.Println(post.Full)
	return nil
})

var themesCmd = &cobra.Command{
	Use:   "themes",
	Short: "List suggested article themes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, t := range generator.Themes() {
			fmt.Println(t)
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	f := accountSetCmd.Flags()
	f.StringVar(&accountFlags.login, "login", "", "note.com login id (email or note id)")
	f.StringVar(&accountFlags.secret, "secret", "", "login password (default $NOTEDRAFT_SECRET)")
	f.StringVar(&accountFlags.provider, "provider", "", "default LLM provider")
	f.StringVar(&accountFlags.tone, "tone", "", "default tone")
	f.StringVar(&accountFlags.length, "length", "", "default length")
	f.StringVar(&accountFlags.conditions, "conditions", "", "default extra conditions")
	_ = accountSetCmd.MarkFlagRequired("login")
	accountCmd.AddCommand(accountSetCmd, accountListCmd)

	articleAddCmd.Flags().StringVar(&articleFlags.title, "title", "", "article title")
	articleAddCmd.Flags().StringVar(&articleFlags.file, "file", "", "read the body from this file instead of stdin")

	g := articleGenerateCmd.Flags()
	g.StringVar(&generateFlags.theme, "theme", "", "article theme (see the themes command)")
	g.StringVar(&generateFlags.trend, "trend", "", "trend keyword to write about")
	g.StringVar(&generateFlags.prompt, "prompt", "", "custom prompt replacing the built-in one")
	g.StringVar(&generateFlags.tone, "tone", "", "tone override")
	g.StringVar(&generateFlags.length, "length", "", "length override, e.g. 2000-3000")
	g.StringVar(&generateFlags.conditions, "conditions", "", "extra writing conditions")
	g.StringVar(&generateFlags.provider, "provider", "", "LLM provider override")
	articleGenerateCmd.MarkFlagsMutuallyExclusive("theme", "prompt")

	articleXPostCmd.Flags().StringVar(&xPostProvider, "provider", "", "LLM provider override")
	articleCmd.AddCommand(articleAddCmd, articleListCmd, articleGenerateCmd, articlePostCmd, articleDeleteCmd, articleXPostCmd)
}
