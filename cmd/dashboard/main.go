// Command dashboard serves the stats page and API from persisted stats,
// without connecting to Slack.
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
	"oncallbuzzer/internal/metrics"
	rtsup "oncallbuzzer/internal/runtime/supervisor"
	"oncallbuzzer/internal/status"
	"oncallbuzzer/internal/storage"
	logx "oncallbuzzer/pkg/logx"
)

func main() {
	var cfgPath, envPath, addr string
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (optional)")
	flag.StringVar(&envPath, "env", ".env", "path to .env file")
	flag.StringVar(&addr, "addr", "", "listen address (overrides status.addr)")
	flag.Parse()

	cfg, err := config.Load(config.LoadOptions{Path: cfgPath, DotEnv: []string{envPath}})
	if err != nil {
		fatal(err)
	}
	cfg.Status.Enabled = true
	cfg.Stats.Enabled = true
	if addr != "" {
		cfg.Status.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	log := logx.NewConsole(cfg.Logging.Level)

	scfg, err := app.MapStatusConfig(cfg)
	if err != nil {
		fatal(err)
	}
	if err := status.CheckBind(scfg); err != nil {
		fatal(err)
	}
	stcfg, _, err := app.MapStorageConfig(cfg)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	sup := rtsup.New(ctx, rtsup.WithLogger(log), rtsup.WithCancelOnError(false))

	var src status.Source
	var store storage.Store
	if stcfg.Driver == "file" {
		w := status.NewFileWatcher(stcfg.Path, log.With(logx.String("comp", "stats.watch")))
		sup.GoRestart("stats.watch", w.Watch,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		)
		src = w
	} else {
		store, err = storage.Open(stcfg, log.With(logx.String("comp", "storage")))
		if err != nil {
			fatal(err)
		}
		src = status.StoreSource{Store: store}
	}

	srv := status.New(scfg, status.Options{
		Source:  src,
		View:    status.NewView(cfg),
		Metrics: metrics.New().Handler(),
	}, log.With(logx.String("comp", "status")))
	srv.Start(ctx)
	log.Info("dashboard running", logx.String("addr", scfg.Addr), logx.String("driver", stcfg.Driver), logx.String("path", stcfg.Path))

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	srv.Stop(stopCtx)
	sup.Cancel()
	_ = sup.Wait(stopCtx)
	if store != nil {
		_ = store.Close()
	}
	log.Info("dashboard stopped")
}

func fatal(err error) {
	fmt.Println("fatal:", err)
	os.Exit(1)
}
