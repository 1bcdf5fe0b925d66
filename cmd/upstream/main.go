package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dalbodeule/hop-gate/internal/acme"
	"github.com/dalbodeule/hop-gate/internal/config"
	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/overlay"
	"github.com/dalbodeule/hop-gate/internal/upstream"
)

func main() {
	logger := logging.NewStdJSONLogger("upstream")

	cfg, err := config.LoadUpstreamConfigFromEnv()
	if err != nil {
		logger.Error("failed to load upstream config from env", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	listenFlag := flag.String("listen", "", "overlay QUIC bind address")
	allowConnectFlag := flag.Bool("allow-legacy-connect", cfg.AllowLegacyConnect, "accept CONNECT-form requests (legacy tunnels)")
	flag.Parse()

	if *listenFlag != "" {
		cfg.OverlayListen = *listenFlag
	}
	cfg.AllowLegacyConnect = *allowConnectFlag

	logger.Info("datum upstream proxy starting", logging.Fields{
		"overlay_listen":       cfg.OverlayListen,
		"max_in_flight":        cfg.MaxConcurrentStreams,
		"allow_legacy_connect": cfg.AllowLegacyConnect,
		"debug":                cfg.Debug,
	})

	// The device's overlay listener is authenticated by the Gateway's
	// ConnectionDetails resolution and ALPN, not by web PKI, so a
	// self-signed certificate is sufficient on this side regardless of
	// debug mode.
	tlsMgr, err := acme.NewSelfSignedManager()
	if err != nil {
		logger.Error("failed to prepare tls material", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	endpoint, err := overlay.NewQUICEndpoint(overlay.QUICEndpointConfig{
		ListenAddr:      cfg.OverlayListen,
		TLSConfig:       tlsMgr.TLSConfig(),
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  45 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create overlay endpoint", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer endpoint.Close()

	client := upstream.NewLocalHTTPClient(cfg.IdleTimeout, cfg.LocalConnectTimeout, cfg.LocalRequestTimeout)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for {
		conn, err := endpoint.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("overlay accept failed", logging.Fields{"error": err.Error()})
			continue
		}

		listener := upstream.NewListener(conn, client, logger, cfg.MaxConcurrentStreams)
		listener.AllowLegacyConnect = cfg.AllowLegacyConnect

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Serve(ctx); err != nil {
				logger.Warn("overlay connection handler exited", logging.Fields{"error": err.Error()})
			}
		}()
	}

	logger.Info("shutting down", nil)
	wg.Wait()
}
