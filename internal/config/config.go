// Package config loads process configuration from environment variables
// (with an optional .env file), the same precedence and parsing helpers
// the teacher used: OS environment wins over .env, which is read at most
// once per process.
package config

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LoggingConfig carries the structured-logging level; the teacher's Loki
// push settings are kept as they generalize directly to whatever log
// shipper operators wire up downstream of stdout.
type LoggingConfig struct {
	Level string
	Loki  LokiConfig
}

type LokiConfig struct {
	Enable       bool
	Endpoint     string
	TenantID     string
	Username     string
	Password     string
	StaticLabels map[string]string
}

// GatewayConfig configures the cloud-side Gateway process (§6 CLI
// surface): inbound listener, routing mode, discovery, and metrics.
type GatewayConfig struct {
	HTTPListen string // inbound HTTP/2 listener, default ":8080"
	Domain     string // public domain the Gateway terminates TLS for

	Mode      string // "metadata" | "codename" | "forward"
	Discovery string // "default" | "dns" | "hybrid"

	DNSOrigin   string
	DNSResolver string

	MetricsAddr string
	MetricsPort string

	DirectoryDSN string

	ConnectTimeout    time.Duration
	StreamOpenTimeout time.Duration

	// FullRequestTimeout bounds the whole inbound-request-to-response-headers
	// round trip (§5 "full request"), default 30s.
	FullRequestTimeout time.Duration
	// IdleReadTimeout (§5 "idle stream read", default 60s) is applied as a
	// fixed deadline on an overlay stream while its response body is
	// relayed (and from stream open when no other deadline applies); it is
	// not extended as bytes arrive.
	IdleReadTimeout time.Duration

	Debug bool

	Logging LoggingConfig
}

// UpstreamConfig configures the device-side UpstreamProxy process. The
// device accepts inbound overlay QUIC connections from the Gateway (which
// holds ConnectionDetails for this node via discovery and dials it), then
// serves one request/response per accepted stream against whatever
// (host, port) the absolute-form request URI names.
type UpstreamConfig struct {
	OverlayListen string // overlay QUIC bind address, e.g. ":4434"

	MaxConcurrentStreams int
	IdleTimeout          time.Duration

	// LocalConnectTimeout bounds TCP connect to the local target (§5
	// "local HTTP client connect"), default 5s.
	LocalConnectTimeout time.Duration
	// LocalRequestTimeout bounds one request/response against the local
	// target (§5 "local request"), default 30s.
	LocalRequestTimeout time.Duration

	AllowLegacyConnect bool

	Debug bool

	Logging LoggingConfig
}

var (
	dotenvOnce sync.Once
	dotenvErr  error
)

// loadDotEnvOnce reads the .env file in the current working directory into
// os.Environ, once per process. KEY=VALUE and export KEY=VALUE lines are
// supported; lines starting with # are comments. Values already present in
// the OS environment are never overwritten.
func loadDotEnvOnce() {
	dotenvOnce.Do(func() {
		fi, err := os.Stat(".env")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return
			}
			dotenvErr = err
			return
		}
		if fi.IsDir() {
			return
		}

		f, err := os.Open(".env")
		if err != nil {
			dotenvErr = err
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if strings.HasPrefix(line, "export ") {
				line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

			if key != "" {
				if _, exists := os.LookupEnv(key); !exists {
					_ = os.Setenv(key, val)
				}
			}
		}
		if err := scanner.Err(); err != nil {
			dotenvErr = err
		}
	})
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseKeyValueCSV(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	m := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k != "" {
			m[k] = v
		}
	}
	return m
}

func loadLoggingFromEnv(prefix string) LoggingConfig {
	level := getEnvOrDefault(prefix+"_LOG_LEVEL", "info")

	return LoggingConfig{
		Level: level,
		Loki: LokiConfig{
			Enable:       getEnvBool(prefix+"_LOKI_ENABLE", false),
			Endpoint:     os.Getenv(prefix + "_LOKI_ENDPOINT"),
			TenantID:     os.Getenv(prefix + "_LOKI_TENANT_ID"),
			Username:     os.Getenv(prefix + "_LOKI_USERNAME"),
			Password:     os.Getenv(prefix + "_LOKI_PASSWORD"),
			StaticLabels: parseKeyValueCSV(os.Getenv(prefix + "_LOKI_STATIC_LABELS")),
		},
	}
}

// LoadGatewayConfigFromEnv builds a GatewayConfig from DATUM_GATEWAY_*
// environment variables (and .env), env winning over .env.
func LoadGatewayConfigFromEnv() (*GatewayConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	cfg := &GatewayConfig{
		HTTPListen:         getEnvOrDefault("DATUM_GATEWAY_HTTP_LISTEN", ":8080"),
		Domain:             os.Getenv("DATUM_GATEWAY_DOMAIN"),
		Mode:               getEnvOrDefault("DATUM_GATEWAY_MODE", "metadata"),
		Discovery:          getEnvOrDefault("DATUM_GATEWAY_DISCOVERY", "default"),
		DNSOrigin:          os.Getenv("DATUM_GATEWAY_DNS_ORIGIN"),
		DNSResolver:        os.Getenv("DATUM_GATEWAY_DNS_RESOLVER"),
		MetricsAddr:        getEnvOrDefault("DATUM_GATEWAY_METRICS_ADDR", "127.0.0.1"),
		MetricsPort:        getEnvOrDefault("DATUM_GATEWAY_METRICS_PORT", "9090"),
		DirectoryDSN:       os.Getenv("DATUM_GATEWAY_DIRECTORY_DSN"),
		ConnectTimeout:     getEnvDuration("DATUM_GATEWAY_CONNECT_TIMEOUT", 10*time.Second),
		StreamOpenTimeout:  getEnvDuration("DATUM_GATEWAY_STREAM_OPEN_TIMEOUT", 10*time.Second),
		FullRequestTimeout: getEnvDuration("DATUM_GATEWAY_FULL_REQUEST_TIMEOUT", 30*time.Second),
		IdleReadTimeout:    getEnvDuration("DATUM_GATEWAY_IDLE_READ_TIMEOUT", 60*time.Second),
		Debug:              getEnvBool("DATUM_GATEWAY_DEBUG", false),
		Logging:            loadLoggingFromEnv("DATUM_GATEWAY"),
	}
	return cfg, nil
}

// LoadUpstreamConfigFromEnv builds an UpstreamConfig from DATUM_UPSTREAM_*
// environment variables (and .env), env winning over .env.
func LoadUpstreamConfigFromEnv() (*UpstreamConfig, error) {
	loadDotEnvOnce()
	if dotenvErr != nil {
		return nil, dotenvErr
	}

	cfg := &UpstreamConfig{
		OverlayListen:        getEnvOrDefault("DATUM_UPSTREAM_OVERLAY_LISTEN", ":4434"),
		MaxConcurrentStreams: getEnvInt("DATUM_UPSTREAM_MAX_CONCURRENT_STREAMS", 1024),
		IdleTimeout:          getEnvDuration("DATUM_UPSTREAM_IDLE_TIMEOUT", 90*time.Second),
		LocalConnectTimeout:  getEnvDuration("DATUM_UPSTREAM_LOCAL_CONNECT_TIMEOUT", 5*time.Second),
		LocalRequestTimeout:  getEnvDuration("DATUM_UPSTREAM_LOCAL_REQUEST_TIMEOUT", 30*time.Second),
		AllowLegacyConnect:   getEnvBool("DATUM_UPSTREAM_ALLOW_LEGACY_CONNECT", false),
		Debug:                getEnvBool("DATUM_UPSTREAM_DEBUG", false),
		Logging:              loadLoggingFromEnv("DATUM_UPSTREAM"),
	}
	return cfg, nil
}
