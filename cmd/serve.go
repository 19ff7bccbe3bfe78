package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/teemow/edulab/internal/budget"
	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/instrumentation"
	"github.com/teemow/edulab/internal/llm"
	"github.com/teemow/edulab/internal/ratelimit"
	"github.com/teemow/edulab/internal/server"
	"github.com/teemow/edulab/internal/storage"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// ServeConfig is everything `edulab serve` needs, after flags and
// environment variables have been merged.
type ServeConfig struct {
	Server  server.Config
	Storage storage.Config
	Metrics MetricsConfig
	Gemini  llm.Config

	AllowedDomains []string
	DailyCostLimit float64
}

const memorySweepInterval = time.Minute

func newServeCmd() *cobra.Command {
	var (
		httpAddr            string
		geminiAPIKey        string
		geminiModel         string
		geminiBaseURL       string
		allowedExtensionIDs []string
		allowedDomains      []string
		dailyCostLimit      float64
		userHourlyLimit     int
		ipWindowLimit       int
		trustProxy          bool
		strictCORS          bool
		// TLS/HTTPS support
		tlsCertFile string
		tlsKeyFile  string
		// Counter storage
		storageType     string
		valkeyURL       string
		valkeyPassword  string
		valkeyTLS       bool
		valkeyTLSCAFile string
		valkeyKeyPrefix string
		valkeyDB        int
		// Metrics server configuration
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend proxy",
		Long: `Run the HTTP proxy between edulab clients and Gemini.

Every request must carry an allowed X-Extension-ID. Generation requests also
need a Google access token (Authorization: Bearer) whose account matches
X-User-Email and belongs to an allowed domain.

Endpoints:
  GET  /api/health     Status and today's spend
  GET  /api/validate   Verify the caller's credentials
  POST /api/generate   Generate content (JSON or text/event-stream)
  GET  /healthz        Liveness probe
  GET  /readyz         Readiness probe

Limits:
  Per user: --user-hourly-limit requests per hour (USER_HOURLY_LIMIT)
  Per IP:   --ip-window-limit requests per 15 minutes on /api (IP_WINDOW_LIMIT)
  Spend:    --daily-cost-limit dollars per day (DAILY_COST_LIMIT)

Counters live in memory by default. Use --storage-type valkey to share them
between replicas.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ServeConfig{
				Server: server.Config{
					Addr:                httpAddr,
					AllowedExtensionIDs: allowedExtensionIDs,
					UserHourlyLimit:     userHourlyLimit,
					IPWindowLimit:       ipWindowLimit,
					TrustProxy:          trustProxy,
					StrictCORS:          strictCORS,
					TLSCertFile:         tlsCertFile,
					TLSKeyFile:          tlsKeyFile,
				},
				Storage: storage.Config{
					Type: storageType,
					Valkey: storage.ValkeyConfig{
						URL:        valkeyURL,
						Password:   valkeyPassword,
						TLSEnabled: valkeyTLS,
						TLSCAFile:  valkeyTLSCAFile,
						KeyPrefix:  valkeyKeyPrefix,
						DB:         valkeyDB,
					},
				},
				Metrics: MetricsConfig{
					Enabled: metricsEnabled,
					Addr:    metricsAddr,
				},
				Gemini: llm.Config{
					APIKey:  geminiAPIKey,
					Model:   geminiModel,
					BaseURL: geminiBaseURL,
				},
				AllowedDomains: allowedDomains,
				DailyCostLimit: dailyCostLimit,
			}

			// Load configuration from environment variables if not set via flags
			if err := loadServeEnvVars(cmd, &cfg); err != nil {
				return err
			}
			loadStorageEnvVars(cmd, &cfg.Storage)

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default :3000). Can also use PORT env var.")
	cmd.Flags().StringVar(&geminiAPIKey, "gemini-api-key", "", "Gemini API key. Can also use GEMINI_API_KEY env var.")
	cmd.Flags().StringVar(&geminiModel, "gemini-model", llm.DefaultModel, "Gemini model name. Can also use GEMINI_MODEL env var.")
	cmd.Flags().StringVar(&geminiBaseURL, "gemini-base-url", llm.DefaultBaseURL, "Gemini REST API root. Can also use GEMINI_BASE_URL env var.")
	cmd.Flags().StringSliceVar(&allowedExtensionIDs, "allowed-extension-ids", nil, "Client IDs accepted in X-Extension-ID (comma-separated). Can also use ALLOWED_EXTENSION_IDS env var.")
	cmd.Flags().StringSliceVar(&allowedDomains, "allowed-domains", nil, "Email domains allowed to use the proxy (comma-separated, default vu.nl,student.vu.nl). Can also use ALLOWED_DOMAINS env var.")
	cmd.Flags().Float64Var(&dailyCostLimit, "daily-cost-limit", server.DefaultDailyCostLimit, "Estimated spend allowed per day in dollars. Can also use DAILY_COST_LIMIT env var.")
	cmd.Flags().IntVar(&userHourlyLimit, "user-hourly-limit", server.DefaultUserHourlyLimit, "Generations allowed per user per hour. Can also use USER_HOURLY_LIMIT env var.")
	cmd.Flags().IntVar(&ipWindowLimit, "ip-window-limit", server.DefaultIPWindowLimit, "API requests allowed per client IP per 15 minutes. Can also use IP_WINDOW_LIMIT env var.")
	cmd.Flags().BoolVar(&trustProxy, "trust-proxy", false, "Take the client IP from X-Forwarded-For / X-Real-IP. Only enable behind a reverse proxy. Can also use TRUST_PROXY env var.")
	cmd.Flags().BoolVar(&strictCORS, "strict-cors", false, "Only reflect browser extension origins in CORS responses. Can also use STRICT_CORS env var.")

	// TLS flags for HTTPS support
	cmd.Flags().StringVar(&tlsCertFile, "tls-cert-file", "", "Path to TLS certificate file (PEM format). If provided with --tls-key-file, enables HTTPS. Can also use TLS_CERT_FILE env var.")
	cmd.Flags().StringVar(&tlsKeyFile, "tls-key-file", "", "Path to TLS private key file (PEM format). If provided with --tls-cert-file, enables HTTPS. Can also use TLS_KEY_FILE env var.")

	// Counter storage flags
	cmd.Flags().StringVar(&storageType, "storage-type", storage.TypeMemory, "Rate limit and budget storage: memory or valkey. Can also use RATE_STORE_TYPE env var.")
	cmd.Flags().StringVar(&valkeyURL, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	cmd.Flags().StringVar(&valkeyPassword, "valkey-password", "", "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	cmd.Flags().BoolVar(&valkeyTLS, "valkey-tls", false, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	cmd.Flags().StringVar(&valkeyTLSCAFile, "valkey-tls-ca-file", "", "CA bundle for Valkey servers with a private CA. Can also use VALKEY_TLS_CA_FILE env var.")
	cmd.Flags().StringVar(&valkeyKeyPrefix, "valkey-key-prefix", storage.DefaultKeyPrefix, "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	cmd.Flags().IntVar(&valkeyDB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")

	// Metrics server flags
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadServeEnvVars fills in settings from environment variables. Environment
// variables only apply when the corresponding flag was not set explicitly.
func loadServeEnvVars(cmd *cobra.Command, cfg *ServeConfig) error {
	changed := cmd.Flags().Changed

	if !changed("http-addr") {
		if port := os.Getenv("PORT"); port != "" {
			if !strings.Contains(port, ":") {
				port = ":" + port
			}
			cfg.Server.Addr = port
		}
	}
	if !changed("gemini-api-key") {
		cfg.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if !changed("gemini-model") {
		if model := os.Getenv("GEMINI_MODEL"); model != "" {
			cfg.Gemini.Model = model
		}
	}
	if !changed("gemini-base-url") {
		if baseURL := os.Getenv("GEMINI_BASE_URL"); baseURL != "" {
			cfg.Gemini.BaseURL = baseURL
		}
	}
	if !changed("allowed-extension-ids") {
		if ids := os.Getenv("ALLOWED_EXTENSION_IDS"); ids != "" {
			cfg.Server.AllowedExtensionIDs = parseCommaSeparatedList(ids)
		}
	}
	if !changed("allowed-domains") {
		if domains := os.Getenv("ALLOWED_DOMAINS"); domains != "" {
			cfg.AllowedDomains = parseCommaSeparatedList(domains)
		}
	}
	if !changed("daily-cost-limit") {
		if v := os.Getenv("DAILY_COST_LIMIT"); v != "" {
			limit, err := strconv.ParseFloat(v, 64)
			if err != nil || limit <= 0 {
				return fmt.Errorf("invalid DAILY_COST_LIMIT %q (expected a positive number)", v)
			}
			cfg.DailyCostLimit = limit
		}
	}
	if !changed("user-hourly-limit") {
		if err := envInt("USER_HOURLY_LIMIT", &cfg.Server.UserHourlyLimit); err != nil {
			return err
		}
	}
	if !changed("ip-window-limit") {
		if err := envInt("IP_WINDOW_LIMIT", &cfg.Server.IPWindowLimit); err != nil {
			return err
		}
	}
	if !changed("trust-proxy") && os.Getenv("TRUST_PROXY") == "true" {
		cfg.Server.TrustProxy = true
	}
	if !changed("strict-cors") && os.Getenv("STRICT_CORS") == "true" {
		cfg.Server.StrictCORS = true
	}
	if !changed("tls-cert-file") {
		cfg.Server.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	}
	if !changed("tls-key-file") {
		cfg.Server.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	}
	if !changed("metrics-enabled") {
		if v := os.Getenv("METRICS_ENABLED"); v != "" {
			cfg.Metrics.Enabled = v == "true"
		}
	}
	if !changed("metrics-addr") {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			cfg.Metrics.Addr = addr
		}
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid %s %q (expected a non-negative integer)", name, v)
	}
	*dst = n
	return nil
}

// loadStorageEnvVars loads counter storage configuration from environment variables.
// Environment variables only override flag values when the flag was not explicitly set.
func loadStorageEnvVars(cmd *cobra.Command, config *storage.Config) {
	if !cmd.Flags().Changed("storage-type") {
		if storageType := os.Getenv("RATE_STORE_TYPE"); storageType != "" {
			config.Type = storageType
		}
	}

	if !cmd.Flags().Changed("valkey-url") {
		if url := os.Getenv("VALKEY_URL"); url != "" && config.Valkey.URL == "" {
			config.Valkey.URL = url
		}
	}

	if !cmd.Flags().Changed("valkey-password") {
		if password := os.Getenv("VALKEY_PASSWORD"); password != "" && config.Valkey.Password == "" {
			config.Valkey.Password = password
		}
	}

	if !cmd.Flags().Changed("valkey-key-prefix") {
		if keyPrefix := os.Getenv("VALKEY_KEY_PREFIX"); keyPrefix != "" {
			config.Valkey.KeyPrefix = keyPrefix
		}
	}

	if !cmd.Flags().Changed("valkey-tls") {
		if os.Getenv("VALKEY_TLS_ENABLED") == "true" {
			config.Valkey.TLSEnabled = true
		}
	}

	if !cmd.Flags().Changed("valkey-tls-ca-file") {
		if caFile := os.Getenv("VALKEY_TLS_CA_FILE"); caFile != "" {
			config.Valkey.TLSCAFile = caFile
		}
	}

	if !cmd.Flags().Changed("valkey-db") {
		if dbStr := os.Getenv("VALKEY_DB"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				config.Valkey.DB = db
			} else {
				slog.Warn("ignoring invalid VALKEY_DB", "value", dbStr)
			}
		}
	}
}

// counterStores are the rate limit and budget stores with their shared
// cleanup.
type counterStores struct {
	rate   ratelimit.Store
	budget budget.Store
	ping   server.ReadinessCheck
	close  func()
}

func newCounterStores(cfg storage.Config) (*counterStores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.UsesValkey() {
		rate := ratelimit.NewMemoryStore(memorySweepInterval)
		return &counterStores{
			rate:   rate,
			budget: budget.NewMemoryStore(),
			close:  func() { _ = rate.Close() },
		}, nil
	}

	client, err := storage.NewValkeyClient(cfg.Valkey)
	if err != nil {
		return nil, err
	}
	prefix := cfg.Valkey.Prefix()
	return &counterStores{
		rate:   ratelimit.NewValkeyStore(client, prefix, false),
		budget: budget.NewValkeyStore(client, prefix),
		ping: func(ctx context.Context) error {
			return client.Do(ctx, client.B().Ping().Build()).Error()
		},
		close: client.Close,
	}, nil
}

func runServe(cfg ServeConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn("error during instrumentation shutdown", "error", err)
		}
	}()

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}

	// Start metrics server if enabled
	if cfg.Metrics.Enabled && provider.Enabled() && provider.ServesPrometheus() {
		metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Path:                    instrConfig.MetricsPath,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if err := metricsServer.Listen(); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Warn("error during metrics server shutdown", "error", err)
			}
		}()
	}

	stores, err := newCounterStores(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to set up counter storage: %w", err)
	}
	defer stores.close()

	health := server.NewHealthChecker()
	if stores.ping != nil {
		health.AddCheck("valkey", stores.ping)
	}

	dailyBudget := budget.New(stores.budget, cfg.DailyCostLimit, budget.WithLogger(logger))
	go dailyBudget.Run(shutdownCtx)

	cfg.Gemini.Metrics = metrics
	gemini := llm.NewGemini(cfg.Gemini)
	if !gemini.Configured() {
		logger.Warn("GEMINI_API_KEY is not set; generation requests will fail")
	}

	cfg.Server.AllowList = identity.NewAllowList(cfg.AllowedDomains...)

	userWindow := cfg.Server.UserWindow
	if userWindow == 0 {
		userWindow = server.DefaultUserWindow
	}
	ipWindow := cfg.Server.IPWindow
	if ipWindow == 0 {
		ipWindow = server.DefaultIPWindow
	}

	srv, err := server.New(cfg.Server, server.Deps{
		Verifier:    identity.NewVerifier(),
		Generator:   gemini,
		Budget:      dailyBudget,
		UserLimiter: ratelimit.NewLimiter(stores.rate, "user", cfg.Server.UserHourlyLimit, userWindow),
		IPLimiter:   ratelimit.NewLimiter(stores.rate, "ip", cfg.Server.IPWindowLimit, ipWindow),
		Metrics:     metrics,
		Audit:       instrumentation.NewAuditLoggerWithConfig(nil, instrConfig.AuditLogging),
		Health:      health,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting edulab proxy",
		"model", gemini.Model(),
		"storage", lo.CoalesceOrEmpty(cfg.Storage.Type, storage.TypeMemory),
		"allowed_domains", cfg.Server.AllowList.Domains(),
		"daily_cost_limit", cfg.DailyCostLimit,
		"tls", cfg.Server.TLSCertFile != "")

	if err := srv.Start(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server stopped with error: %w", err)
	}
	logger.Info("HTTP server gracefully stopped")
	return nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
