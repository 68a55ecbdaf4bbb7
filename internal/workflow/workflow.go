// Package workflow turns a prompt into an executed instruction stream:
// plan (or load from the plan cache), validate, run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/v0xg/stepflow/internal/ai"
	"github.com/v0xg/stepflow/internal/browser"
	"github.com/v0xg/stepflow/internal/cache"
	"github.com/v0xg/stepflow/internal/executor"
	"github.com/v0xg/stepflow/internal/instruction"
	"github.com/v0xg/stepflow/internal/metrics"
)

// Config bounds the orchestrator's own calls
type Config struct {
	NavigateTimeout time.Duration
	PlanningTimeout time.Duration
}

// DefaultConfig matches the executor's navigate timeout
func DefaultConfig() Config {
	return Config{NavigateTimeout: 30 * time.Second, PlanningTimeout: 2 * time.Minute}
}

// Options are per-run settings
type Options struct {
	Run executor.RunOptions
	// NoCache skips the cache lookup. A fresh plan is still stored.
	NoCache bool
}

// Outcome is the result of a whole run
type Outcome struct {
	RunID        string                    `json:"runId"`
	Key          string                    `json:"key,omitempty"`
	CacheHit     bool                      `json:"cacheHit"`
	Instructions []instruction.Instruction `json:"instructions"`
	Results      []executor.StepResult     `json:"results"`
	Summary      executor.Summary          `json:"summary"`
	Elapsed      time.Duration             `json:"-"`
	ElapsedMs    int64                     `json:"elapsedMs"`
}

// Orchestrator resolves a prompt to an instruction stream and runs it.
// Store may be nil, which disables caching.
type Orchestrator struct {
	Planner ai.Planner
	Store   cache.Store
	Runner  *executor.Runner
	Driver  browser.Driver
	Config  Config
	Logger  *slog.Logger
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Orchestrator) config() Config {
	c := o.Config
	d := DefaultConfig()
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = d.NavigateTimeout
	}
	if c.PlanningTimeout <= 0 {
		c.PlanningTimeout = d.PlanningTimeout
	}
	return c
}

// Run plans (or loads) the stream for prompt and executes it. An error is
// returned only when nothing could be run: planning failed or the stream
// did not validate. Step failures are reported in the Outcome.
func (o *Orchestrator) Run(ctx context.Context, prompt string, opts Options) (*Outcome, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := o.logger().With("run_id", runID)
	key := cache.Key(prompt)

	var (
		list []instruction.Instruction
		hit  bool
	)
	if !opts.NoCache && o.Store != nil {
		cached, ok, err := o.Store.Get(ctx, key)
		switch {
		case err != nil:
			metrics.RecordCache(metrics.CacheError)
			log.Warn("plan cache read failed, planning instead", "key", key, "error", err)
		case ok:
			metrics.RecordCache(metrics.CacheHit)
			list, hit = instruction.Clone(cached), true
		default:
			metrics.RecordCache(metrics.CacheMiss)
		}
	}

	if hit {
		log.Info("plan cache hit", "key", key, "steps", len(list))
		if err := instruction.ValidateStream(list).Err(); err != nil {
			return nil, fmt.Errorf("cached plan %s: %w", key, err)
		}
		if len(list) > 0 && list[0].Action == instruction.ActionNavigate {
			url := list[0].Params.(instruction.NavigateParams).URL
			list[0].PreResolved = o.navigate(ctx, log, url)
		}
	} else {
		planned, navigated, err := o.plan(ctx, log, prompt)
		if err != nil {
			return nil, err
		}
		if err := instruction.ValidateStream(planned).Err(); err != nil {
			log.Error("planned stream is invalid", "error", err)
			return nil, err
		}
		if o.Store != nil {
			if err := cache.Save(ctx, o.Store, key, prompt, planned); err != nil {
				log.Warn("failed to persist plan", "key", key, "error", err)
			}
		}
		list = instruction.Clone(planned)
		if navigated && list[0].Action == instruction.ActionNavigate {
			list[0].PreResolved = true
		}
	}

	out := o.execute(ctx, log, list, opts.Run)
	out.RunID = runID
	out.Key = key
	out.CacheHit = hit
	out.Elapsed = time.Since(start)
	out.ElapsedMs = out.Elapsed.Milliseconds()
	log.Info("run finished",
		"all_passed", out.Summary.AllPassed,
		"success", out.Summary.Success,
		"fail", out.Summary.Fail,
		"total", out.Summary.Total,
		"elapsed", out.Elapsed,
	)
	return out, nil
}

// RunInstructions validates and runs a stream that was not planned here,
// such as a hand-written file.
func (o *Orchestrator) RunInstructions(ctx context.Context, list []instruction.Instruction, opts Options) (*Outcome, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := o.logger().With("run_id", runID)

	if err := instruction.ValidateStream(list).Err(); err != nil {
		return nil, err
	}
	out := o.execute(ctx, log, instruction.Clone(list), opts.Run)
	out.RunID = runID
	out.Elapsed = time.Since(start)
	out.ElapsedMs = out.Elapsed.Milliseconds()
	return out, nil
}

func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, list []instruction.Instruction, opts executor.RunOptions) *Outcome {
	res := o.Runner.WithLogger(log).Run(ctx, list, opts)
	return &Outcome{
		Instructions: list,
		Results:      res.Results,
		Summary:      res.Summary,
	}
}

// plan calls the planner, navigating to the prompt's URL at the same time
// when it has one. navigated reports whether that navigation succeeded.
func (o *Orchestrator) plan(ctx context.Context, log *slog.Logger, prompt string) (list []instruction.Instruction, navigated bool, err error) {
	cfg := o.config()
	url := ExtractURL(prompt)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pctx, cancel := context.WithTimeout(gctx, cfg.PlanningTimeout)
		defer cancel()
		var perr error
		list, perr = o.Planner.Plan(pctx, prompt)
		return perr
	})
	if url != "" && o.Driver != nil {
		log.Info("navigating while planning", "url", url)
		g.Go(func() error {
			navigated = o.navigate(gctx, log, url)
			return nil
		})
	}

	err = g.Wait()
	elapsed := time.Since(start)
	metrics.RecordPlanning(elapsed)
	if err != nil {
		log.Error("planning failed", "elapsed", elapsed, "error", err)
		if !ai.IsExternal(err) {
			err = &ai.ExternalServiceError{Service: "planner", Op: "plan", Err: err}
		}
		return nil, false, err
	}
	log.Info("planned", "steps", len(list), "elapsed", elapsed)
	return list, navigated, nil
}

// navigate performs a best-effort navigation. Failures are only logged;
// the stream's own steps verify the page later.
func (o *Orchestrator) navigate(ctx context.Context, log *slog.Logger, url string) bool {
	if o.Driver == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, o.config().NavigateTimeout)
	defer cancel()
	if err := o.Driver.Navigate(ctx, url); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("pre-navigation failed", "url", url, "error", err)
		}
		return false
	}
	return true
}

var (
	schemeURL = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>()]+`)
	bareHost  = regexp.MustCompile(`(?i)\b((?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+([a-z]{2,}))(?::\d+)?(?:/[^\s"'<>()]*)?`)
)

// hostTLDs are the top-level domains a bare host must end in. Country codes
// that double as file extensions (md, py, sh, rs) are left out.
var hostTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "edu": true, "gov": true, "mil": true,
	"io": true, "dev": true, "app": true, "ai": true, "co": true, "me": true,
	"info": true, "biz": true, "xyz": true, "site": true, "online": true,
	"tech": true, "cloud": true, "page": true, "blog": true, "shop": true,
	"store": true, "tv": true, "gg": true, "so": true,
	"us": true, "uk": true, "ca": true, "au": true, "nz": true, "ie": true,
	"de": true, "fr": true, "nl": true, "be": true, "ch": true, "at": true,
	"es": true, "it": true, "pt": true, "se": true, "no": true, "dk": true,
	"fi": true, "pl": true, "cz": true, "eu": true, "ru": true, "ua": true,
	"jp": true, "cn": true, "kr": true, "in": true, "sg": true, "hk": true,
	"tw": true, "br": true, "mx": true, "ar": true, "cl": true, "za": true,
}

// ExtractURL returns the first URL-looking substring of prompt. Bare hosts
// such as example.com/login are returned with an https scheme and must end
// in a known top-level domain, so names like report.pdf or john.doe are
// skipped. It returns "" when the prompt has none.
func ExtractURL(prompt string) string {
	scheme := schemeURL.FindStringIndex(prompt)

	var bare []int
	for _, m := range bareHost.FindAllStringSubmatchIndex(prompt, -1) {
		if hostTLDs[strings.ToLower(prompt[m[4]:m[5]])] {
			bare = m[:2]
			break
		}
	}

	var u string
	switch {
	case scheme != nil && (bare == nil || scheme[0] <= bare[0]):
		u = prompt[scheme[0]:scheme[1]]
	case bare != nil:
		u = "https://" + prompt[bare[0]:bare[1]]
	default:
		return ""
	}
	return strings.TrimRight(u, ".,;:!?")
}
