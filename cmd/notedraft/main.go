// Command notedraft manages accounts, articles and posting schedules, and can
// run the scheduler daemon in the foreground.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/notedraft/internal/app"
	"github.com/ibeckermayer/notedraft/internal/config"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

var (
	configFlag   string
	accountFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "notedraft",
	Short: "Schedule draft posts to note.com",
	Long: `notedraft generates or reuses articles and saves them as note.com drafts
on a daily or weekly schedule.

Examples:
  notedraft account set --account main --login me@example.com --secret ...
  notedraft schedule add --account main --daily --at 09:00 --topic 朝活
  notedraft schedule list --account main
  notedraft serve`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", os.Getenv("NOTEDRAFT_CONFIG"), "config file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVarP(&accountFlag, "account", "a", "", "account id")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "log level for one-shot commands")

	rootCmd.AddCommand(serveCmd, scheduleCmd, runNowCmd, loginCmd, loginTestCmd, logoutCmd,
		accountCmd, articleCmd, themesCmd, outcomesCmd, artifactsCmd, trendsCmd, botTestCmd, openCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, "", err
	}
	if created {
		fmt.Fprintf(os.Stderr, "Created default config at: %s\n", path)
	}
	return cfg, path, nil
}

// withApp opens the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, app.Paths{ConfigFile: path}, logx.NewConsole(logLevelFlag))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func requireAccount() (string, error) {
	if accountFlag == "" {
		return "", fmt.Errorf("--account is required")
	}
	return accountFlag, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until interrupted (SIGHUP reloads)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		log, closer, err := logx.New(cfg.Log)
		if err != nil {
			return err
		}
		defer closer.Close()

		a, err := app.New(cfg, app.Paths{ConfigFile: path}, log)
		if err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}
