// Package acme manages TLS material for two distinct listeners: a
// go-acme/lego-driven certificate for the configured public domain, used on
// the Gateway's inbound HTTP/2 listener (or a self-signed localhost
// certificate in debug mode); and a self-signed certificate for the overlay
// QUIC handshake on both the Gateway and device sides, where authenticity
// comes from discovery/ALPN rather than web PKI.
package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/dalbodeule/hop-gate/internal/logging"
)

// Manager abstracts certificate provisioning for the Gateway's HTTPS
// listener.
type Manager interface {
	// TLSConfig returns the tls.Config to hand to http.Server/quic.Transport.
	TLSConfig() *tls.Config
}

// NewSelfSignedManager returns a Manager backed by an in-memory self-signed
// localhost certificate, for local development and tests (GatewayConfig.Debug).
func NewSelfSignedManager() (Manager, error) {
	cfg, err := newSelfSignedLocalhostConfig()
	if err != nil {
		return nil, fmt.Errorf("acme: generating self-signed cert: %w", err)
	}
	return &staticManager{cfg: cfg}, nil
}

type staticManager struct {
	cfg *tls.Config
}

func (s *staticManager) TLSConfig() *tls.Config { return s.cfg }

// acmeUser implements lego's registration.User for the account that requests
// certificates on the Gateway operator's behalf.
type acmeUser struct {
	Email        string
	Registration *registration.Resource
	key          *ecdsa.PrivateKey
}

func (u *acmeUser) GetEmail() string                       { return u.Email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// LegoManager obtains a certificate for one domain once, at construction,
// via ACME HTTP-01 challenge (it does not renew it), serving the challenge on a plain HTTP listener
// (ChallengeHTTPAddr) while the Gateway's main listener stays HTTPS-only.
type LegoManager struct {
	mu     sync.RWMutex
	cfg    *tls.Config
	domain string
	logger logging.Logger
}

// LegoManagerConfig configures certificate acquisition.
type LegoManagerConfig struct {
	Domain            string
	Email             string
	CADirURL          string // empty defaults to Let's Encrypt production
	ChallengeHTTPAddr string // address http01 challenge responses are served from, e.g. ":80"
}

// NewLegoManager performs an initial ACME certificate issuance for
// cfg.Domain and returns a Manager serving it. Renewal is the operator's
// responsibility (re-run issuance and swap the process, matching the
// teacher's restart-to-rotate deployment model).
func NewLegoManager(cfg LegoManagerConfig, logger logging.Logger) (*LegoManager, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("acme: domain is required")
	}
	if logger == nil {
		logger = logging.NewStdJSONLogger("acme")
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: generating account key: %w", err)
	}
	user := &acmeUser{Email: cfg.Email, key: key}

	legoCfg := lego.NewConfig(user)
	if cfg.CADirURL != "" {
		legoCfg.CADirURL = cfg.CADirURL
	}
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return nil, fmt.Errorf("acme: creating lego client: %w", err)
	}

	addr := cfg.ChallengeHTTPAddr
	if addr == "" {
		addr = ":80"
	}
	if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", portOf(addr))); err != nil {
		return nil, fmt.Errorf("acme: configuring http01 provider: %w", err)
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("acme: registering account: %w", err)
	}
	user.Registration = reg

	req := certificate.ObtainRequest{
		Domains: []string{cfg.Domain},
		Bundle:  true,
	}
	certs, err := client.Certificate.Obtain(req)
	if err != nil {
		return nil, fmt.Errorf("acme: obtaining certificate for %s: %w", cfg.Domain, err)
	}

	tlsCert, err := tls.X509KeyPair(certs.Certificate, certs.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("acme: parsing issued keypair: %w", err)
	}

	logger.Info("obtained acme certificate", logging.Fields{"domain": cfg.Domain})

	m := &LegoManager{
		cfg:    &tls.Config{Certificates: []tls.Certificate{tlsCert}, MinVersion: tls.VersionTLS12},
		domain: cfg.Domain,
		logger: logger,
	}
	return m, nil
}

func (m *LegoManager) TLSConfig() *tls.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// portOf extracts the port segment of an address like ":80" or "0.0.0.0:80"
// for http01.NewProviderServer, which wants host and port separately.
func portOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i+1:]
		}
	}
	return addr
}
