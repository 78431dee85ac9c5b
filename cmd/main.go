package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/config"
	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/metrics"
	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/resolver"
	"github.io/kevin-rd/k8s-tools/socks5-relay/internal/socks5"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Log.Apply(log.StandardLogger()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.Info("Welcome go socks5!")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		count := 0
		for sig := range stopCh {
			count++
			log.Debugf("Receive signal: %v, count: %d", sig, count)

			if count == 1 {
				log.Info("First signal received, initiating graceful shutdown...")
				cancel()
			} else {
				log.Warn("Receive signal again, force exit.")
				os.Exit(1)
			}
		}
	}()

	// metrics server
	if cfg.MetricsListen != "" {
		go func() {
			log.Infof("Starting metrics server on %s...", cfg.MetricsListen)
			if err := metrics.StartServer(ctx, cfg.MetricsListen); err != nil {
				if errors.Is(err, http.ErrServerClosed) {
					log.Info("Metrics server has gracefully shutdown.")
				} else {
					log.Fatalf("metrics server error: %v", err)
				}
			}
		}()
	}

	// socks5 server
	srv := &socks5.Server{
		Connector: socks5.NewConnector(
			resolver.New(cfg.DNS.Servers, cfg.DNS.Timeout, cfg.DNS.CacheTTL),
			cfg.ConnectTimeout,
		),
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxSessions:      cfg.MaxSessions,
		Log:              log.StandardLogger(),
	}
	log.Infof("SOCKS5 proxy server running on %s", cfg.Listen)
	socks5.MustStart(ctx, srv, cfg.Listen)
	log.Info("Shutdown done.")
}
