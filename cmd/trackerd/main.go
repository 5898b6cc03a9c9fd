package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trackerd/internal/app"
	"trackerd/internal/config"
	"trackerd/internal/httpapi"
)

func main() {
	var (
		cfgPath  string
		tokenFor string
		tokenTTL time.Duration
		service  bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.StringVar(&tokenFor, "token", "", "print an API token for this user id and exit")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the token printed by -token")
	flag.BoolVar(&service, "token-service", false, "grant the printed token access to the /internal routes")
	flag.Parse()

	if tokenFor != "" {
		if err := printToken(cfgPath, tokenFor, tokenTTL, service); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	var reason app.StopReason
	select {
	case sig := <-sigCh:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "exited with error:", err)
		os.Exit(1)
	}
}

func printToken(cfgPath, userID string, ttl time.Duration, service bool) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return err
	}
	var scopes []string
	if service {
		scopes = append(scopes, httpapi.ScopeService)
	}
	tok, err := httpapi.GenerateToken(cfg.HTTP.JWTSecret, userID, ttl, scopes...)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
