package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teemow/edulab/internal/logging"
)

// rootCmd represents the base command for the edulab application
var rootCmd = &cobra.Command{
	Use:   "edulab",
	Short: "Educational AI assistant backed by Gemini",
	Long: `edulab helps students and lecturers summarize, quiz, explain and plan
teaching around course material.

It can run as:
  - The backend proxy in front of Gemini (edulab serve)
  - A command-line client that signs in with Google and talks to the proxy`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var (
	debugMode bool
	logFormat string
)

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	// Values already in the environment win over .env.
	_ = godotenv.Load()

	rootCmd.SetVersionTemplate(`{{printf "edulab version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	format := logFormat
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}
	if !debugMode && os.Getenv("DEBUG") == "true" {
		debugMode = true
	}
	slog.SetDefault(logging.NewLogger(os.Stderr, format, debugMode))
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging. Can also use DEBUG=true.")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default text). Can also use LOG_FORMAT env var.")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAskCmd())
	for _, feature := range contentFeatures {
		rootCmd.AddCommand(newFeatureCmd(feature))
	}
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}
