// Sync historical data for one instrument into the local dataset store.
// Requires a valid session (run dartbot-login first).
//
// Usage:
//
//	go run cmd/dartbot-history/main.go -segment NSE -token 2885 [-timeframe day] [-days 30] [-prevclose]
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"dartbot/internal/config"
	"dartbot/internal/domain"
	"dartbot/internal/history"
	"dartbot/internal/metrics"
	"dartbot/internal/session"
	"dartbot/internal/util"
)

func main() {
	segment := flag.String("segment", "", "exchange segment, e.g. NSE")
	token := flag.String("token", "", "instrument token")
	timeframe := flag.String("timeframe", "day", "day, minute, or tick")
	days := flag.Int("days", 30, "how far back to sync on a cold start")
	prevClose := flag.Bool("prevclose", false, "print the previous trading day's close and exit")
	flag.Parse()

	if *segment == "" || *token == "" {
		flag.Usage()
		os.Exit(2)
	}

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

	sync := history.NewSynchronizer(history.Opts{
		BaseURL:           cfg.Definedge.HistoryURL,
		Auth:              mgr,
		Store:             history.NewStore(cfg.Storage.DataDir),
		LookbackDays:      cfg.History.LookbackDays,
		Timeout:           time.Duration(cfg.History.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.History.RequestsPerMinute,
		Metrics:           m,
		Logger:            logger,
	})

	ctx := context.Background()

	if *prevClose {
		close, ok, err := sync.PreviousClose(ctx, *segment, *token)
		if err != nil {
			log.Fatalf("previous close: %v", err)
		}
		if !ok {
			log.Fatalf("no data available for %s/%s", *segment, *token)
		}
		logger.Info("previous close", "segment", *segment, "token", *token, "close", close)
		return
	}

	key := domain.SeriesKey{Segment: *segment, Token: *token, Timeframe: domain.Timeframe(*timeframe)}
	now := time.Now()
	series, err := sync.Sync(ctx, key, now.AddDate(0, 0, -*days), now)
	if err != nil {
		log.Fatalf("sync failed: %v", err)
	}
	logger.Info("sync complete", "segment", *segment, "token", *token, "timeframe", *timeframe, "points", series.Len())
}
