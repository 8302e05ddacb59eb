// Run the live tick stream: subscribe to the instruments configured under
// stream.instruments and archive every tick to Parquet. Requires a valid
// session (run dartbot-login first). Stops cleanly on SIGINT/SIGTERM.
//
// Usage:
//
//	go run cmd/dartbot-stream/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dartbot/internal/config"
	"dartbot/internal/history"
	"dartbot/internal/metrics"
	"dartbot/internal/session"
	"dartbot/internal/stream"
	"dartbot/internal/util"
)

func main() {
	cfgPath := "config/dartbot.yaml"
	if p := os.Getenv("DARTBOT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if len(cfg.Stream.Instruments) == 0 {
		log.Fatal("no stream.instruments configured")
	}
	instruments := make([]stream.Instrument, 0, len(cfg.Stream.Instruments))
	for _, s := range cfg.Stream.Instruments {
		inst, err := stream.ParseInstrument(s)
		if err != nil {
			log.Fatalf("bad instrument %q: %v", s, err)
		}
		instruments = append(instruments, inst)
	}

	mgr := session.NewManager(session.Opts{
		Credentials: session.Credentials{
			APIToken:   cfg.Definedge.APIToken,
			APISecret:  cfg.Definedge.APISecret,
			TOTPSecret: cfg.Definedge.TOTPSecret,
		},
		LoginURL:    cfg.Definedge.LoginURL,
		TokenURL:    cfg.Definedge.TokenURL,
		PersistPath: cfg.Definedge.SessionFile,
		Logger:      logger,
	})
	if !mgr.IsLoggedIn() {
		log.Fatal("no session; run dartbot-login first")
	}

	m := metrics.New()
	m.Serve(cfg.Metrics.Port)

	cal := util.NewTradingCalendar("xnse")
	if !cal.IsOpen(time.Now()) {
		logger.Warn("market is closed; the feed will stay quiet until open")
	}

	archive := history.NewArchive(cfg.Storage.DataDir)
	client := stream.NewClient(cfg.Definedge.WSURL, mgr, archive, instruments, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting stream", "instruments", len(instruments))
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("stream: %v", err)
	}
	logger.Info("stream stopped")
}
