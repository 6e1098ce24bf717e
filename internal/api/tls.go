package api

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"github.com/axonops/showledger/internal/config"
)

// TLSManager serves the ops listener certificate and swaps it in place when
// the files on disk change.
type TLSManager struct {
	config    config.TLSConfig
	mu        sync.RWMutex
	cert      *tls.Certificate
	clientCAs *x509.CertPool
}

// NewTLSManager loads the configured key pair.
func NewTLSManager(cfg config.TLSConfig) (*TLSManager, error) {
	tm := &TLSManager{config: cfg}
	if err := tm.Reload(); err != nil {
		return nil, err
	}
	return tm, nil
}

// Reload rereads the certificate, key and client CA bundle. On error the
// previous material stays in use.
func (tm *TLSManager) Reload() error {
	cert, err := tls.LoadX509KeyPair(tm.config.CertFile, tm.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load server certificate: %w", err)
	}

	var pool *x509.CertPool
	if tm.config.CAFile != "" {
		// #nosec G304 -- path comes from operator configuration
		pem, err := os.ReadFile(tm.config.CAFile)
		if err != nil {
			return fmt.Errorf("failed to load CA certificate: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("failed to parse CA certificate %s", tm.config.CAFile)
		}
	}

	tm.mu.Lock()
	tm.cert = &cert
	tm.clientCAs = pool
	tm.mu.Unlock()
	return nil
}

// GetCertificate returns the current certificate for a TLS handshake.
func (tm *TLSManager) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.cert, nil
}

// TLSConfig builds the listener configuration. Client CAs are resolved per
// handshake so a reload also rotates them.
func (tm *TLSManager) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: tm.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if tm.config.MinVersion == "1.3" || tm.config.MinVersion == "TLS1.3" {
		cfg.MinVersion = tls.VersionTLS13
	}
	if tm.config.ClientAuth == "verify" {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
			tm.mu.RLock()
			defer tm.mu.RUnlock()
			c := cfg.Clone()
			c.GetConfigForClient = nil
			c.ClientCAs = tm.clientCAs
			return c, nil
		}
	}
	return cfg
}
