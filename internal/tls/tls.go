// Package tls builds server TLS configuration for the daemon API,
// loading operator-provided certificates or generating a self-signed
// pair for local deployments.
package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config selects the certificate source for the API listener.
type Config struct {
	CertFile string
	KeyFile  string
	// AutoGenerate creates a self-signed pair under Dir when no
	// certificate files are configured.
	AutoGenerate bool
	Dir          string
	CommonName   string
	DNSNames     []string
	ValidDays    int
}

// Setup returns a tls.Config for the listener, generating a self-signed
// certificate first if configured to.
func Setup(c Config) (*tls.Config, error) {
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" && keyPath == "" {
		if !c.AutoGenerate {
			return nil, fmt.Errorf("tls: no certificate files and auto_generate disabled")
		}
		dir := c.Dir
		if dir == "" {
			dir = "certs"
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("tls: create cert dir: %w", err)
		}
		certPath = filepath.Join(dir, "server.crt")
		keyPath = filepath.Join(dir, "server.key")
		if !certificatesExist(certPath, keyPath) {
			if err := generate(c, certPath, keyPath); err != nil {
				return nil, err
			}
		}
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func generate(c Config, certPath, keyPath string) error {
	cn := c.CommonName
	if cn == "" {
		cn = "localhost"
	}
	dnsNames := c.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: "scriptr",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1", "::1"},
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     certPath,
		KeyPath:      keyPath,
	})
}

func certificatesExist(certPath, keyPath string) bool {
	if _, err := os.Stat(certPath); err != nil {
		return false
	}
	if _, err := os.Stat(keyPath); err != nil {
		return false
	}
	return true
}
