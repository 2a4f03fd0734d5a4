package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"oncallbuzzer/internal/app"
	"oncallbuzzer/internal/config"
	"oncallbuzzer/internal/status"
)

func main() {
	var cfgPath, envPath string
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (optional)")
	flag.StringVar(&envPath, "env", ".env", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: cfgPath, DotEnv: []string{envPath}})
	if err != nil {
		fatal(err)
	}
	if err := cfg.RequireSlack(); err != nil {
		fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}
	if cfg.Status.Enabled {
		if err := status.CheckBind(status.Config{Addr: cfg.Status.Addr, Token: cfg.Status.Token, AllowInsecure: cfg.Status.AllowInsecure}); err != nil {
			fatal(err)
		}
	}

	a, err := app.New(cfg)
	if err != nil {
		fatal(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.ReasonForSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)

	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			fmt.Println("fatal:", err)
		}
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Println("fatal:", err)
	os.Exit(1)
}
