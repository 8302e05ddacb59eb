// Establish (or refresh) the broker session. With a TOTP secret configured
// the handshake completes unattended; otherwise the OTP delivered to the
// account holder is read from stdin.
//
// Usage:
//
//	go run cmd/dartbot-login/main.go [-manual]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"dartbot/internal/config"
	"dartbot/internal/metrics"
	"dartbot/internal/session"
	"dartbot/internal/util"
)

func main() {
	manual := flag.Bool("manual", false, "force manual OTP entry even when a TOTP secret is configured")
	flag.Parse()

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

	m := metrics.New()
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

	ctx := context.Background()
	result, err := mgr.Login(ctx, !*manual)
	if err != nil {
		m.Logins.WithLabelValues("error").Inc()
		log.Fatalf("login failed: %v", err)
	}

	if !result.Authenticated {
		fmt.Print("OTP: ")
		reader := bufio.NewReader(os.Stdin)
		code, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("reading otp: %v", err)
		}
		if err := mgr.CompleteChallenge(ctx, result.OTPToken, strings.TrimSpace(code)); err != nil {
			m.Logins.WithLabelValues("error").Inc()
			log.Fatalf("login failed: %v", err)
		}
	}

	m.Logins.WithLabelValues("ok").Inc()
	logger.Info("logged in", "uid", mgr.UserID(), "session_file", cfg.Definedge.SessionFile)
}
