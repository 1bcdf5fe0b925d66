package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dalbodeule/hop-gate/internal/acme"
	"github.com/dalbodeule/hop-gate/internal/config"
	"github.com/dalbodeule/hop-gate/internal/connmgr"
	"github.com/dalbodeule/hop-gate/internal/directory"
	"github.com/dalbodeule/hop-gate/internal/discovery"
	"github.com/dalbodeule/hop-gate/internal/gateway"
	"github.com/dalbodeule/hop-gate/internal/logging"
	"github.com/dalbodeule/hop-gate/internal/metrics"
	"github.com/dalbodeule/hop-gate/internal/overlay"
)

func main() {
	logger := logging.NewStdJSONLogger("gateway")

	cfg, err := config.LoadGatewayConfigFromEnv()
	if err != nil {
		logger.Error("failed to load gateway config from env", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	modeFlag := flag.String("mode", "", "routing mode: metadata | codename | forward")
	discoveryFlag := flag.String("discovery", "", "discovery strategy: default | dns | hybrid")
	httpListenFlag := flag.String("http-listen", "", "inbound HTTP/2 listen address")
	flag.Parse()

	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}
	if *discoveryFlag != "" {
		cfg.Discovery = *discoveryFlag
	}
	if *httpListenFlag != "" {
		cfg.HTTPListen = *httpListenFlag
	}

	mode := gateway.Mode(cfg.Mode)
	switch mode {
	case gateway.ModeMetadata, gateway.ModeCodename, gateway.ModeForward:
	default:
		logger.Error("invalid --mode", logging.Fields{"mode": cfg.Mode})
		os.Exit(2)
	}

	logger.Info("datum gateway starting", logging.Fields{
		"mode":        cfg.Mode,
		"discovery":   cfg.Discovery,
		"http_listen": cfg.HTTPListen,
		"domain":      cfg.Domain,
		"debug":       cfg.Debug,
	})

	metrics.MustRegister()

	// The directory is only opened in codename mode, where a DSN is
	// required; the other modes never consult it.
	var dir gateway.Directory
	if mode == gateway.ModeCodename {
		if strings.TrimSpace(cfg.DirectoryDSN) == "" {
			logger.Error("codename mode requires DATUM_GATEWAY_DIRECTORY_DSN", nil)
			os.Exit(2)
		}
		pg, err := directory.Open(context.Background(), logger, directory.Config{DSN: cfg.DirectoryDSN})
		if err != nil {
			logger.Error("failed to open directory store", logging.Fields{"error": err.Error()})
			os.Exit(1)
		}
		defer pg.Close()
		dir = pg
	}

	resolver := buildResolver(cfg, logger)

	// The overlay QUIC handshake is authenticated by discovery/ALPN, not web
	// PKI, so it uses the same self-signed scheme as the device side rather
	// than the ACME certificate for cfg.Domain.
	overlayTLSCfg, err := acme.NewSelfSignedManager()
	if err != nil {
		logger.Error("failed to prepare overlay tls material", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	inboundTLSCfg, err := buildInboundTLSConfig(cfg, logger)
	if err != nil {
		logger.Error("failed to prepare inbound tls material", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	endpoint, err := overlay.NewQUICEndpoint(overlay.QUICEndpointConfig{
		TLSConfig:       overlayTLSCfg.TLSConfig(),
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  45 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create overlay endpoint", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
	defer endpoint.Close()

	dialer := connmgr.DialerFunc(func(ctx context.Context, id overlay.NodeId) (overlay.Connection, error) {
		details, err := resolver.Resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving node %s: %w", id, err)
		}
		dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		return endpoint.Connect(dialCtx, id, details)
	})
	connections := connmgr.New(dialer, logger)
	defer connections.CloseAll()

	router := gateway.NewRouter(mode, dir)
	forwarder := gateway.NewForwarder(connections, logger, cfg.StreamOpenTimeout, cfg.IdleReadTimeout)
	handler := &gateway.Handler{Router: router, Forwarder: forwarder, Logger: logger, FullRequestTimeout: cfg.FullRequestTimeout}

	httpSrv := gateway.NewHTTPServer(cfg.HTTPListen, handler)
	httpSrv.TLSConfig = inboundTLSCfg

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http listener started", logging.Fields{"addr": cfg.HTTPListen})
		if err := httpSrv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", logging.Fields{"error": err.Error()})
			stop()
		}
	}()

	metricsAddr := net.JoinHostPort(cfg.MetricsAddr, cfg.MetricsPort)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		logger.Info("metrics listener started", logging.Fields{"addr": metricsAddr})
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server exited with error", logging.Fields{"error": err.Error()})
		}
	}()

	go reportCacheSize(ctx, connections)

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = gateway.Shutdown(shutdownCtx, httpSrv)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func buildResolver(cfg *config.GatewayConfig, logger logging.Logger) discovery.Resolver {
	switch cfg.Discovery {
	case "dns":
		if cfg.DNSOrigin == "" || cfg.DNSResolver == "" {
			logger.Error("discovery=dns requires DATUM_GATEWAY_DNS_ORIGIN and DATUM_GATEWAY_DNS_RESOLVER", nil)
			os.Exit(2)
		}
		return discovery.NewDNSResolver(cfg.DNSOrigin, cfg.DNSResolver, 0)
	case "hybrid":
		static := discovery.NewStatic()
		if cfg.DNSOrigin == "" || cfg.DNSResolver == "" {
			logger.Warn("discovery=hybrid configured without dns origin/resolver; falling back to static only", nil)
			return static
		}
		return hybridResolver{static: static, dns: discovery.NewDNSResolver(cfg.DNSOrigin, cfg.DNSResolver, 0)}
	default:
		return discovery.NewStatic()
	}
}

// hybridResolver tries the statically-configured entries first (for
// directly peered nodes) and falls back to DNS TXT discovery, matching the
// --discovery hybrid CLI mode (§6).
type hybridResolver struct {
	static *discovery.Static
	dns    *discovery.DNSResolver
}

func (h hybridResolver) Resolve(ctx context.Context, id overlay.NodeId) (overlay.ConnectionDetails, error) {
	if details, err := h.static.Resolve(ctx, id); err == nil {
		return details, nil
	}
	return h.dns.Resolve(ctx, id)
}

// buildInboundTLSConfig obtains the tls.Config the public-facing HTTP/2
// listener presents to Internet clients: a real ACME certificate for
// cfg.Domain, or a self-signed localhost certificate in debug mode.
func buildInboundTLSConfig(cfg *config.GatewayConfig, logger logging.Logger) (*tls.Config, error) {
	if cfg.Debug || cfg.Domain == "" {
		logger.Warn("using self-signed localhost certificate (debug mode)", logging.Fields{
			"note": "do not use this in production",
		})
		mgr, err := acme.NewSelfSignedManager()
		if err != nil {
			return nil, err
		}
		return mgr.TLSConfig(), nil
	}

	mgr, err := acme.NewLegoManager(acme.LegoManagerConfig{
		Domain: cfg.Domain,
	}, logger)
	if err != nil {
		return nil, err
	}
	return mgr.TLSConfig(), nil
}

func reportCacheSize(ctx context.Context, connections *connmgr.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.CachedConnectionsGauge.Set(float64(connections.Len()))
		}
	}
}
