// Emergency recovery actions against the live account: cancel every open
// order, convert open orders to market, square off every position, or the
// full flatten sequence. These act on real money, so -yes is mandatory.
//
// Usage:
//
//	go run cmd/dartbot-recover/main.go -action cancel|market|squareoff|flatten -yes
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"dartbot/internal/api"
	"dartbot/internal/books"
	"dartbot/internal/config"
	"dartbot/internal/metrics"
	"dartbot/internal/orders"
	"dartbot/internal/recovery"
	"dartbot/internal/session"
	"dartbot/internal/util"
)

func main() {
	action := flag.String("action", "", "cancel, market, squareoff, or flatten")
	yes := flag.Bool("yes", false, "confirm acting on the live account")
	flag.Parse()

	if !*yes {
		log.Fatal("refusing to run without -yes: this acts on the live account")
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
	client := api.NewClient(cfg.Definedge.APIURL, mgr, m, logger)

	journal, err := orders.NewJournal(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}
	defer journal.Close()

	runner := recovery.NewRunner(
		books.NewReader(client, logger),
		orders.NewManager(client, journal, logger),
		logger,
	)

	ctx := context.Background()
	switch *action {
	case "cancel":
		report, err := runner.CancelAllOrders(ctx)
		if err != nil {
			log.Fatalf("cancel all: %v", err)
		}
		logReport(logger, "cancel", report)
	case "market":
		report, err := runner.ModifyAllToMarket(ctx)
		if err != nil {
			log.Fatalf("modify to market: %v", err)
		}
		logReport(logger, "market", report)
	case "squareoff":
		report, err := runner.SquareOffAll(ctx)
		if err != nil {
			log.Fatalf("square off: %v", err)
		}
		logReport(logger, "squareoff", report)
	case "flatten":
		cancelled, squared, err := runner.Flatten(ctx)
		if err != nil {
			log.Fatalf("flatten: %v", err)
		}
		logReport(logger, "cancel", cancelled)
		logReport(logger, "squareoff", squared)
	default:
		flag.Usage()
		os.Exit(2)
	}

	logger.Info("recovery run complete", "action", *action, "journal", filepath.Base(cfg.Storage.SQLitePath))
}

func logReport(logger *slog.Logger, action string, r *recovery.Report) {
	logger.Info("recovery report", "action", action,
		"attempted", r.Attempted, "succeeded", r.Succeeded, "failed", r.Failed)
	for _, res := range r.Results {
		if !res.OK {
			logger.Info("recovery failure", "action", action, "id", res.ID, "err", res.Err)
		}
	}
}
