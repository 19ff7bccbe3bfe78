package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/edulab/internal/server"
	"github.com/teemow/edulab/internal/storage"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "ext-a",
			expected: []string{"ext-a"},
		},
		{
			name:     "multiple values",
			input:    "ext-a,ext-b",
			expected: []string{"ext-a", "ext-b"},
		},
		{
			name:     "values with spaces around comma",
			input:    "ext-a, ext-b",
			expected: []string{"ext-a", "ext-b"},
		},
		{
			name:     "values with leading/trailing spaces",
			input:    "  ext-a  ,  ext-b  ",
			expected: []string{"ext-a", "ext-b"},
		},
		{
			name:     "trailing comma",
			input:    "ext-a,ext-b,",
			expected: []string{"ext-a", "ext-b"},
		},
		{
			name:     "leading comma",
			input:    ",ext-a,ext-b",
			expected: []string{"ext-a", "ext-b"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "ext-a,,ext-b",
			expected: []string{"ext-a", "ext-b"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: []string{},
		},
		{
			name:     "single value with surrounding whitespace",
			input:    "  ext-a  ",
			expected: []string{"ext-a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseCommaSeparatedList(tt.input)

			// Handle nil vs empty slice comparison
			if tt.expected == nil {
				if result != nil {
					t.Errorf("parseCommaSeparatedList(%q) = %v, want nil", tt.input, result)
				}
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("parseCommaSeparatedList(%q) = %v (len %d), want %v (len %d)",
					tt.input, result, len(result), tt.expected, len(tt.expected))
				return
			}

			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("parseCommaSeparatedList(%q)[%d] = %q, want %q",
						tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func clearServeEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PORT", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "ALLOWED_EXTENSION_IDS",
		"ALLOWED_DOMAINS", "DAILY_COST_LIMIT", "USER_HOURLY_LIMIT", "IP_WINDOW_LIMIT",
		"TRUST_PROXY", "STRICT_CORS", "TLS_CERT_FILE", "TLS_KEY_FILE", "METRICS_ENABLED",
		"METRICS_ADDR", "RATE_STORE_TYPE", "VALKEY_URL", "VALKEY_PASSWORD", "VALKEY_KEY_PREFIX",
		"VALKEY_TLS_ENABLED", "VALKEY_TLS_CA_FILE", "VALKEY_DB",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadServeEnvVars(t *testing.T) {
	clearServeEnv(t)
	t.Setenv("PORT", "8081")
	t.Setenv("GEMINI_API_KEY", "key-123")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-flash")
	t.Setenv("ALLOWED_EXTENSION_IDS", "ext-a, ext-b")
	t.Setenv("ALLOWED_DOMAINS", "vu.nl")
	t.Setenv("DAILY_COST_LIMIT", "12.5")
	t.Setenv("USER_HOURLY_LIMIT", "10")
	t.Setenv("IP_WINDOW_LIMIT", "20")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("METRICS_ENABLED", "false")

	cmd := newServeCmd()
	cfg := ServeConfig{
		Server:         server.Config{UserHourlyLimit: 50, IPWindowLimit: 100},
		Metrics:        MetricsConfig{Enabled: true, Addr: ":9090"},
		DailyCostLimit: 50,
	}
	require.NoError(t, loadServeEnvVars(cmd, &cfg))

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "key-123", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-1.5-flash", cfg.Gemini.Model)
	assert.Equal(t, []string{"ext-a", "ext-b"}, cfg.Server.AllowedExtensionIDs)
	assert.Equal(t, []string{"vu.nl"}, cfg.AllowedDomains)
	assert.Equal(t, 12.5, cfg.DailyCostLimit)
	assert.Equal(t, 10, cfg.Server.UserHourlyLimit)
	assert.Equal(t, 20, cfg.Server.IPWindowLimit)
	assert.True(t, cfg.Server.TrustProxy)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadServeEnvVarsFlagsWin(t *testing.T) {
	clearServeEnv(t)
	t.Setenv("USER_HOURLY_LIMIT", "10")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cmd := newServeCmd()
	require.NoError(t, cmd.Flags().Set("user-hourly-limit", "7"))
	require.NoError(t, cmd.Flags().Set("gemini-api-key", "from-flag"))

	cfg := ServeConfig{Server: server.Config{UserHourlyLimit: 7}}
	cfg.Gemini.APIKey = "from-flag"
	require.NoError(t, loadServeEnvVars(cmd, &cfg))

	assert.Equal(t, 7, cfg.Server.UserHourlyLimit)
	assert.Equal(t, "from-flag", cfg.Gemini.APIKey)
}

func TestLoadServeEnvVarsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{name: "cost limit not a number", env: "DAILY_COST_LIMIT", value: "lots"},
		{name: "cost limit zero", env: "DAILY_COST_LIMIT", value: "0"},
		{name: "negative user limit", env: "USER_HOURLY_LIMIT", value: "-1"},
		{name: "ip limit not a number", env: "IP_WINDOW_LIMIT", value: "many"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearServeEnv(t)
			t.Setenv(tt.env, tt.value)

			var cfg ServeConfig
			err := loadServeEnvVars(newServeCmd(), &cfg)
			assert.ErrorContains(t, err, tt.env)
		})
	}
}

func TestLoadStorageEnvVars(t *testing.T) {
	clearServeEnv(t)
	t.Setenv("RATE_STORE_TYPE", "valkey")
	t.Setenv("VALKEY_URL", "valkey.edulab.svc:6379")
	t.Setenv("VALKEY_PASSWORD", "secret")
	t.Setenv("VALKEY_KEY_PREFIX", "test:")
	t.Setenv("VALKEY_TLS_ENABLED", "true")
	t.Setenv("VALKEY_DB", "3")

	cmd := newServeCmd()
	cfg := storage.Config{Type: storage.TypeMemory, Valkey: storage.ValkeyConfig{KeyPrefix: storage.DefaultKeyPrefix}}
	loadStorageEnvVars(cmd, &cfg)

	assert.Equal(t, storage.Config{
		Type: storage.TypeValkey,
		Valkey: storage.ValkeyConfig{
			URL:        "valkey.edulab.svc:6379",
			Password:   "secret",
			TLSEnabled: true,
			KeyPrefix:  "test:",
			DB:         3,
		},
	}, cfg)
}

func TestNewCounterStores(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		stores, err := newCounterStores(storage.Config{Type: storage.TypeMemory})
		require.NoError(t, err)
		defer stores.close()

		assert.Nil(t, stores.ping)
		d, err := stores.rate.Take(context.Background(), "ip:1.2.3.4", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		total, err := stores.budget.Add(context.Background(), "2026-03-14", 0.5)
		require.NoError(t, err)
		assert.Equal(t, 0.5, total)
	})

	t.Run("valkey without address", func(t *testing.T) {
		_, err := newCounterStores(storage.Config{Type: storage.TypeValkey})
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := newCounterStores(storage.Config{Type: "etcd"})
		assert.Error(t, err)
	})
}
