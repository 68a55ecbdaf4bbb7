package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/v0xg/stepflow/internal/config"
)

var (
	configPath      string
	provider        string
	model           string
	verbose         bool
	logFormat       string
	headless        bool
	profile         string
	noCache         bool
	continueOnError bool
	stepDelay       int
	record          string
	metricsAddr     string
	jsonOutput      bool
)

// errStepsFailed makes the process exit non-zero after a run whose
// summary is not all-passed. The details were already printed.
var errStepsFailed = errors.New("not all steps passed")

func main() {
	// Load .env file if present (silently ignore if not found)
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Run browser flows described in plain language",
		Long: `stepflow plans a natural language prompt into browser instructions with an
LLM (or loads the plan from its cache) and executes them against a real browser.
Element lookups use the plan's CSS selectors first and fall back to the LLM.

Example:
  stepflow run "open example.com, click the login button, verify page contains \"Dashboard\""`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: ./stepflow.yaml if present)")
	pf.StringVar(&provider, "provider", "", "AI provider: claude, openai")
	pf.StringVar(&model, "model", "", "Specific model override")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text, json")

	rootCmd.AddCommand(newRunCmd(), newExecCmd(), newValidateCmd(), newCacheCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errStepsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// addBrowserFlags registers the flags of commands that drive a browser
func addBrowserFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&headless, "headless", true, "Run the browser without a window")
	f.StringVar(&profile, "profile", "", "Chrome/Chromium profile directory for authenticated sessions (close browser first)")
	f.BoolVar(&continueOnError, "continue-on-error", false, "Keep running after a failed step")
	f.IntVar(&stepDelay, "step-delay", 0, "Delay between steps (ms)")
	f.StringVar(&record, "record", "", "Write a GIF replay of the run to this file")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.BoolVar(&jsonOutput, "json", false, "Print the run outcome as JSON")
}

// loadConfig reads the config file and environment, then applies the
// flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider.Name = provider
	}
	if flags.Changed("model") {
		cfg.Provider.Model = model
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = headless
	}
	if flags.Changed("profile") {
		cfg.Browser.ProfileDir = profile
	}
	if flags.Changed("continue-on-error") {
		cfg.Run.StopOnError = !continueOnError
	}
	if flags.Changed("step-delay") {
		cfg.Run.StepDelay = msDuration(stepDelay)
	}
	if flags.Changed("record") {
		cfg.Record.Path = record
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger writes structured logs to stderr so stdout stays readable
func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
