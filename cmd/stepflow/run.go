package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/v0xg/stepflow/internal/ai"
	"github.com/v0xg/stepflow/internal/browser"
	"github.com/v0xg/stepflow/internal/cache"
	"github.com/v0xg/stepflow/internal/config"
	"github.com/v0xg/stepflow/internal/executor"
	"github.com/v0xg/stepflow/internal/instruction"
	"github.com/v0xg/stepflow/internal/metrics"
	"github.com/v0xg/stepflow/internal/recorder"
	"github.com/v0xg/stepflow/internal/workflow"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Plan a prompt (or load its cached plan) and execute it",
		Args:  cobra.ExactArgs(1),
		RunE:  runPrompt,
	}
	addBrowserFlags(cmd)
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Ignore the cached plan and plan again")
	return cmd
}

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <file.json>",
		Short: "Validate and execute an instruction file without planning",
		Args:  cobra.ExactArgs(1),
		RunE:  execFile,
	}
	addBrowserFlags(cmd)
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.json>",
		Short: "Check an instruction file against the instruction schema",
		Args:  cobra.ExactArgs(1),
		RunE:  validateFile,
	}
}

func runPrompt(cmd *cobra.Command, args []string) error {
	prompt := args[0]
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	logger.Debug("starting stepflow",
		"provider", cfg.Provider.Name,
		"model", cfg.Provider.Model,
		"cache", cfg.Cache.Backend,
	)

	progress := progressWriter()
	fmt.Fprintf(progress, "→ Initializing %s... ", cfg.Provider.Name)
	aiProvider, err := ai.NewProvider(providerConfig(cfg))
	if err != nil {
		fmt.Fprintln(progress, "failed")
		return fmt.Errorf("AI provider init failed: %w", err)
	}
	fmt.Fprintln(progress, "done")

	eng, err := startEngine(cfg, logger, aiProvider)
	if err != nil {
		return err
	}
	defer eng.close()

	fmt.Fprintln(progress, "→ Running...")
	out, err := eng.orchestrator.Run(cmd.Context(), prompt, workflow.Options{
		Run:     runOptions(cfg),
		NoCache: noCache,
	})
	if err != nil {
		var verr *instruction.ValidationError
		if errors.As(err, &verr) {
			printValidation(os.Stderr, verr)
		}
		return err
	}
	return eng.report(os.Stdout, out)
}

func execFile(cmd *cobra.Command, args []string) error {
	list, err := readInstructions(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	// the semantic tier is optional when the plan is already written
	aiProvider, err := ai.NewProvider(providerConfig(cfg))
	if err != nil {
		logger.Warn("semantic resolver disabled", "error", err)
	}

	eng, err := startEngine(cfg, logger, aiProvider)
	if err != nil {
		return err
	}
	defer eng.close()

	fmt.Fprintf(progressWriter(), "→ Running %d steps from %s...\n", len(list), args[0])
	out, err := eng.orchestrator.RunInstructions(cmd.Context(), list, workflow.Options{Run: runOptions(cfg)})
	if err != nil {
		var verr *instruction.ValidationError
		if errors.As(err, &verr) {
			printValidation(os.Stderr, verr)
		}
		return err
	}
	return eng.report(os.Stdout, out)
}

func validateFile(cmd *cobra.Command, args []string) error {
	list, err := readInstructions(args[0])
	if err != nil {
		return err
	}
	report := instruction.ValidateStream(list)
	if !report.Valid {
		printValidation(os.Stdout, report.Err().(*instruction.ValidationError))
		return errStepsFailed
	}
	fmt.Printf("✓ %s: %d valid steps\n", args[0], len(list))
	return nil
}

func readInstructions(path string) ([]instruction.Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	list, err := instruction.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return list, nil
}

func printValidation(w io.Writer, verr *instruction.ValidationError) {
	fmt.Fprintln(w, "✗ Invalid instruction stream")
	for _, msg := range verr.Stream {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	for _, s := range verr.Steps {
		for _, msg := range s.Errors {
			fmt.Fprintf(w, "  [step %d] %s\n", s.StepID, msg)
		}
	}
}

func providerConfig(cfg *config.Config) ai.ProviderConfig {
	return ai.ProviderConfig{
		Name:      cfg.Provider.Name,
		Model:     cfg.Provider.Model,
		APIKey:    cfg.Provider.APIKey(),
		BaseURL:   cfg.Provider.BaseURL,
		MaxTokens: cfg.Provider.MaxTokens,
	}
}

func runOptions(cfg *config.Config) executor.RunOptions {
	return executor.RunOptions{StopOnError: cfg.Run.StopOnError, StepDelay: cfg.Run.StepDelay}
}

func timeouts(t config.TimeoutConfig) executor.Timeouts {
	return executor.Timeouts{
		Attach:         t.Attach,
		Action:         t.Action,
		Navigate:       t.Navigate,
		WaitSelector:   t.WaitSelector,
		DegradedPause:  t.DegradedPause,
		NetworkIdle:    t.NetworkIdle,
		ConditionPause: t.ConditionPause,
		Semantic:       t.Semantic,
	}
}

func msDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// engine is everything a run needs, wired from config
type engine struct {
	logger       *slog.Logger
	session      *browser.Session
	store        cache.Store
	recorder     *recorder.Recorder
	recordPath   string
	metrics      *http.Server
	orchestrator *workflow.Orchestrator
}

// startEngine launches the browser and wires the orchestrator. A nil
// provider runs without the semantic tier and cannot plan.
func startEngine(cfg *config.Config, logger *slog.Logger, provider ai.Provider) (*engine, error) {
	eng := &engine{logger: logger, recordPath: cfg.Record.Path}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		eng.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := eng.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	store, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Dir, cfg.Cache.Path)
	if err != nil {
		eng.close()
		return nil, fmt.Errorf("failed to open plan cache: %w", err)
	}
	eng.store = store

	progress := progressWriter()
	fmt.Fprintf(progress, "→ Launching browser... ")
	session, err := browser.Launch(browser.Options{
		Width:      cfg.Browser.Width,
		Height:     cfg.Browser.Height,
		Headless:   cfg.Browser.Headless,
		Bin:        cfg.Browser.Bin,
		ProfileDir: cfg.Browser.ProfileDir,
	})
	if err != nil {
		fmt.Fprintln(progress, "failed")
		eng.close()
		return nil, err
	}
	fmt.Fprintln(progress, "done")
	eng.session = session

	var (
		planner  ai.Planner
		resolver ai.Resolver
	)
	if provider != nil {
		planner = ai.NewPlanner(provider, logger)
		resolver = ai.NewResolver(provider, session, logger)
	}

	exec := executor.New(executor.Env{
		Driver:   session,
		Resolver: resolver,
		Logger:   logger,
		Timeouts: timeouts(cfg.Timeouts),
	})
	runner := executor.NewRunner(exec, logger, executor.ObserverFunc(printStep))
	if cfg.Record.Path != "" {
		eng.recorder = recorder.New(session, recorder.Options{
			Width:      uint(cfg.Record.Width),
			FrameDelay: cfg.Record.FrameDelay,
		}, logger)
		runner.Observe(eng.recorder)
	}

	eng.orchestrator = &workflow.Orchestrator{
		Planner: planner,
		Store:   store,
		Runner:  runner,
		Driver:  session,
		Config: workflow.Config{
			NavigateTimeout: cfg.Timeouts.Navigate,
			PlanningTimeout: cfg.Timeouts.Planning,
		},
		Logger: logger,
	}
	return eng, nil
}

func (e *engine) close() {
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			e.logger.Warn("failed to close browser", "error", err)
		}
	}
	if c, ok := e.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.logger.Warn("failed to close plan cache", "error", err)
		}
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.metrics.Shutdown(ctx)
	}
}

// report writes the outcome to w, saves the replay and turns a failed run
// into a non-zero exit
func (e *engine) report(w io.Writer, out *workflow.Outcome) error {
	if e.recorder != nil && e.recorder.Len() > 0 {
		progress := progressWriter()
		fmt.Fprintf(progress, "→ Generating GIF (%d frames)... ", e.recorder.Len())
		size, err := e.recorder.Save(e.recordPath)
		if err != nil {
			fmt.Fprintln(progress, "failed")
			e.logger.Error("failed to save recording", "path", e.recordPath, "error", err)
		} else {
			fmt.Fprintf(progress, "done (%s, %.1f KB)\n", e.recordPath, float64(size)/1024)
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printSummary(w, out)
	}

	if !out.Summary.AllPassed {
		return errStepsFailed
	}
	return nil
}

// progressWriter keeps stdout clean for the JSON outcome
func progressWriter() io.Writer {
	if jsonOutput {
		return os.Stderr
	}
	return os.Stdout
}

func printStep(_ context.Context, s executor.StepResult) {
	if jsonOutput {
		return
	}
	mark := "✓"
	if !s.Success {
		mark = "✗"
	}
	fmt.Printf("  %s [%d] %s → %s (%dms)\n", mark, s.StepID, s.Action, s.Description, s.ElapsedMs)
	if !s.Success {
		fmt.Printf("      %s\n", s.Error)
	}
}

func printSummary(w io.Writer, out *workflow.Outcome) {
	source := "planned"
	if out.CacheHit {
		source = "cached"
	}
	if out.Key == "" {
		source = "file"
	}

	s := out.Summary
	skipped := s.Total - len(out.Results)
	line := fmt.Sprintf("%d/%d passed", s.Success, s.Total)
	if skipped > 0 {
		line += fmt.Sprintf(", %d not run", skipped)
	}

	if s.AllPassed {
		fmt.Fprintf(w, "✓ %s (%s plan, %s)\n", line, source, out.Elapsed.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "✗ %s (%s plan, %s)\n", line, source, out.Elapsed.Round(time.Millisecond))
	if out.Key != "" {
		fmt.Fprintf(w, "  correct the plan with: stepflow cache show %s\n", shortKey(out.Key))
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return strings.TrimSpace(key)
}
