package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"

	"github.com/chromedp/chromedp"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	browseropts "github.com/ibeckermayer/notedraft/internal/browser"
	"github.com/ibeckermayer/notedraft/internal/config"
)

var botTestCmd = &cobra.Command{
	Use:   "bot-test",
	Short: "Open bot.sannysoft.com to audit the browser fingerprint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		log.Println("Opening bot.sannysoft.com with stealth browser options...")

		lo := browseropts.LaunchOptions{
			Headless:  false, // visible so you can inspect it
			UserAgent: cfg.Browser.UserAgent,
			Locale:    cfg.Browser.Locale,
			Timezone:  cfg.Browser.Timezone,
		}
		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), browseropts.Options(lo)...)
		defer cancel()

		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		err = chromedp.Run(ctx,
			chromedp.Navigate("https://bot.sannysoft.com"),
			chromedp.WaitVisible("body", chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}

		fmt.Println("Press Enter to close the browser...")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')

		log.Println("Done.")
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:       "open <config|cache|artifacts>",
	Short:     "Open the config file or a data directory",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"config", "cache", "artifacts"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			path string
			err  error
		)
		switch args[0] {
		case "config":
			path, err = configPath()
		case "cache":
			path, err = config.CacheDir()
		case "artifacts":
			var cfg *config.Config
			if cfg, _, err = loadConfig(); err == nil {
				path, err = cfg.ArtifactDir()
			}
		default:
			return fmt.Errorf("unknown target: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("get path: %w", err)
		}
		if err := browser.OpenFile(path); err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		return nil
	},
}
