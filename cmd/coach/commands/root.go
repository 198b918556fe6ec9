package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/interview-coach/internal/coach"
	"github.com/yegors/interview-coach/internal/config"
	"github.com/yegors/interview-coach/internal/live"
	"github.com/yegors/interview-coach/internal/metrics"
	"github.com/yegors/interview-coach/internal/templating"
	"github.com/yegors/interview-coach/pkg/logger"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Interview practice with a simulated candidate",
	Long: `coach - practice recruiting interviews against an AI candidate.

A persona is generated from a job description, then a real-time voice
session lets you interview that candidate. When you finish, the transcript
is assessed and you receive coaching feedback.

Configuration is read from a TOML file (default: config.toml) and the
GEMINI_API_KEY / OPENAI_API_KEY environment variables.

Examples:
  # Serve the HTTP API and browser bridge
  coach serve

  # Interview on local devices
  coach interview --job job.txt --experience experienced --gender female

  # Generate a persona only
  coach persona --job job.txt --experience fresher --gender male > persona.json
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(personaCmd)
	rootCmd.AddCommand(feedbackCmd)
}

// loadConfig loads and validates the configuration. Missing credentials
// are fatal here, before any session or generation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes to stderr so stdout carries only command output
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	lc := cfg.Logging
	lc.Output = os.Stderr
	return logger.New(lc)
}

func newCoach(ctx context.Context, cfg *config.Config, log *logger.Logger) (*coach.Service, *templating.Renderer, error) {
	renderer, err := templating.NewRenderer(cfg.Coach.TemplateDir, log)
	if err != nil {
		return nil, nil, err
	}
	model, err := coach.NewModel(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return coach.NewService(model, renderer, cfg.Coach.Timeout(), metrics.DefaultMetrics, log), renderer, nil
}

func newLiveClient(cfg *config.Config, log *logger.Logger) *live.Client {
	return live.NewClient(live.Config{
		APIKey:           cfg.Gemini.APIKey,
		Endpoint:         cfg.Gemini.LiveEndpoint,
		HandshakeTimeout: time.Duration(cfg.Gemini.HandshakeTimeoutSeconds) * time.Second,
		SendQueue:        cfg.Audio.SendQueueSize,
	}, log)
}

// readInput reads a file, or stdin when path is "-"
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func readJobDescription(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--job is required")
	}
	data, err := readInput(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
