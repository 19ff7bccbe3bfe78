// Package storage selects and connects the backend that holds the proxy's
// shared counters (rate-limit windows and the daily budget).
package storage

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/valkey-io/valkey-go"
)

// Backend types.
const (
	TypeMemory = "memory"
	TypeValkey = "valkey"
)

// DefaultKeyPrefix namespaces every key edulab writes to Valkey.
const DefaultKeyPrefix = "edulab:"

// Config selects the counter backend.
type Config struct {
	// Type is "memory" (default, per process) or "valkey" (shared by replicas).
	Type string

	Valkey ValkeyConfig
}

// ValkeyConfig holds the connection settings for a Valkey backend.
type ValkeyConfig struct {
	// URL is the server address, e.g. "valkey.edulab.svc:6379". Several
	// comma separated addresses are accepted for clusters.
	URL string

	Password string

	TLSEnabled bool

	// TLSCAFile is a PEM bundle for servers signed by a private CA.
	TLSCAFile string

	KeyPrefix string

	DB int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeValkey:
		if strings.TrimSpace(c.Valkey.URL) == "" {
			return errors.New("valkey storage requires a server address (--valkey-url or VALKEY_URL)")
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage type %q (want memory or valkey)", c.Type)
	}
}

// UsesValkey reports whether counters are kept in Valkey.
func (c Config) UsesValkey() bool {
	return c.Type == TypeValkey
}

// Prefix returns the configured key prefix or DefaultKeyPrefix.
func (c ValkeyConfig) Prefix() string {
	if c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return c.KeyPrefix
}

// NewValkeyClient connects to the configured Valkey server.
func NewValkeyClient(cfg ValkeyConfig) (valkey.Client, error) {
	addrs := make([]string, 0, 1)
	for _, a := range strings.Split(cfg.URL, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("valkey address is empty")
	}

	opt := valkey.ClientOption{
		InitAddress: addrs,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}

	if cfg.TLSEnabled {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.TLSCAFile != "" {
			pem, err := os.ReadFile(cfg.TLSCAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read valkey CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCAFile)
			}
			tlsConfig.RootCAs = pool
		}
		opt.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.URL, err)
	}
	return client, nil
}
