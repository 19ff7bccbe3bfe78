package server

import (
	"errors"
	"time"

	"github.com/teemow/edulab/internal/identity"
)

// Defaults for Config.
const (
	DefaultAddr            = ":3000"
	DefaultUserHourlyLimit = 50
	DefaultUserWindow      = time.Hour
	DefaultIPWindowLimit   = 100
	DefaultIPWindow        = 15 * time.Minute
	DefaultDailyCostLimit  = 50.0
	DefaultMaxBodyBytes    = 10 << 10
)

// Config configures the proxy.
type Config struct {
	// Addr is the listen address of the API (default ":3000").
	Addr string

	// AllowedExtensionIDs are the client IDs accepted in X-Extension-ID.
	AllowedExtensionIDs []string

	// AllowList restricts which Google accounts may use the proxy.
	AllowList *identity.AllowList

	UserHourlyLimit int
	UserWindow      time.Duration

	IPWindowLimit int
	IPWindow      time.Duration

	// TrustProxy honours X-Forwarded-For and X-Real-IP for the IP limit.
	TrustProxy bool

	// StrictCORS only reflects browser extension origins.
	StrictCORS bool

	// MaxBodyBytes bounds request bodies (default 10 KiB).
	MaxBodyBytes int64

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.AllowList == nil {
		c.AllowList = identity.NewAllowList()
	}
	if c.UserHourlyLimit == 0 {
		c.UserHourlyLimit = DefaultUserHourlyLimit
	}
	if c.UserWindow == 0 {
		c.UserWindow = DefaultUserWindow
	}
	if c.IPWindowLimit == 0 {
		c.IPWindowLimit = DefaultIPWindowLimit
	}
	if c.IPWindow == 0 {
		c.IPWindow = DefaultIPWindow
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if len(c.AllowedExtensionIDs) == 0 {
		return errors.New("at least one allowed extension ID is required (--allowed-extension-ids or ALLOWED_EXTENSION_IDS)")
	}
	if c.UserHourlyLimit < 0 || c.IPWindowLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("both --tls-cert-file and --tls-key-file are required for TLS")
	}
	return nil
}
