// Command notedraft-daemon runs the posting scheduler in the foreground.
// Use cmd/notedraft to manage accounts and schedules.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ibeckermayer/notedraft/internal/app"
	"github.com/ibeckermayer/notedraft/internal/config"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

func main() {
	path := os.Getenv("NOTEDRAFT_CONFIG")
	if path == "" {
		path, _ = config.ConfigPath()
	}

	// Load or create configuration
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil && cfg == nil {
		fmt.Fprintf(os.Stderr, "notedraft: %v\n", err)
		os.Exit(1)
	}

	log, closer, lerr := logx.New(cfg.Log)
	if lerr != nil {
		fmt.Fprintf(os.Stderr, "notedraft: %v\n", lerr)
		os.Exit(1)
	}
	defer closer.Close()

	switch {
	case err != nil:
		log.Warn("could not save default config, using defaults", logx.Err(err))
	case created:
		log.Info("created default config", logx.String("path", path))
	}

	a, err := app.New(cfg, app.Paths{ConfigFile: path}, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}

	log.Info("notedraft starting...")
	if err := a.Run(context.Background()); err != nil {
		log.Error("notedraft exited with error", logx.Err(err))
		closer.Close()
		os.Exit(1)
	}
}
