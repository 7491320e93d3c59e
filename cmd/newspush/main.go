package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"newspush/internal/app"
	logx "newspush/pkg/logx"
)

func main() {
	var opt app.Options
	flag.StringVar(&opt.ConfigPath, "config", "", "path to config json/yaml (optional; env vars alone are enough)")
	flag.StringVar(&opt.EnvPath, "env", "", "path to a dotenv file (default: ./.env when present)")
	flag.BoolVar(&opt.Once, "once", false, "run once and exit even if a schedule is configured")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(opt)
	if err != nil {
		// Logging is not configured yet; report on the console.
		logx.NewConsole("info").Error("fatal: startup failed", logx.Err(err))
		os.Exit(app.ExitFailure)
	}

	code := a.Run(ctx)
	cancel()
	os.Exit(code)
}
