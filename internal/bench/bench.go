// Package bench sequences a benchmark run: start the dev server, confirm
// liveness, apply timed edits, tear down, and recover the build duration
// from the trace log.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/recompile-bench/internal/config"
	"github.com/hochfrequenz/recompile-bench/internal/proc"
	"github.com/hochfrequenz/recompile-bench/internal/report"
	"github.com/hochfrequenz/recompile-bench/internal/srcfile"
	"github.com/hochfrequenz/recompile-bench/internal/tracelog"
)

// ErrServerExited reports that the server quit before its readiness marker
// appeared. The spawn layer treats that as a degenerate success; for a
// benchmark it is fatal, because every later step needs a live server.
var ErrServerExited = errors.New("server exited before becoming ready")

// LivenessCheckError reports that the readiness HTTP probe failed.
type LivenessCheckError struct {
	URL    string
	Status int
	Err    error
}

func (e *LivenessCheckError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("liveness check %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("liveness check %s: status %d, want 200", e.URL, e.Status)
}

func (e *LivenessCheckError) Unwrap() error { return e.Err }

// Harness runs one deterministic edit/measure sequence. No step retries
// and no step has an internal timeout; bound the run with ctx if needed.
type Harness struct {
	cfg   *config.Config
	debug bool
}

// New creates a Harness for the given configuration.
func New(cfg *config.Config, debug bool) *Harness {
	return &Harness{cfg: cfg, debug: debug}
}

// Run performs the full sequence and returns per-edit milestones plus the
// trace-derived build duration. The tracked source file is restored on
// every exit path, success or failure.
func (h *Harness) Run(ctx context.Context) (result report.Result, err error) {
	cfg := h.cfg

	// Stale build output from a previous run would skew the cold compile.
	// Absence is fine.
	if rmErr := os.RemoveAll(cfg.BuildDirPath()); rmErr != nil && h.debug {
		log.Printf("[bench] clearing %s: %v", cfg.BuildDirPath(), rmErr)
	}

	file, err := srcfile.New(cfg.TargetPath())
	if err != nil {
		return result, err
	}
	defer func() {
		if restoreErr := file.Restore(); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()

	milestoneRe := proc.DefaultMilestonePattern
	if cfg.Server.MilestonePattern != "" {
		milestoneRe, err = regexp.Compile(cfg.Server.MilestonePattern)
		if err != nil {
			return result, fmt.Errorf("milestone pattern: %w", err)
		}
	}
	var readyRe *regexp.Regexp
	if cfg.Server.ReadyPattern != "" {
		readyRe, err = regexp.Compile(cfg.Server.ReadyPattern)
		if err != nil {
			return result, fmt.Errorf("ready pattern: %w", err)
		}
	}

	if h.debug {
		log.Printf("[bench] starting %s %s on port %d", cfg.Server.Command, cfg.Server.Mode, cfg.Server.Port)
	}
	p, err := proc.Spawn(ctx, proc.SpawnOptions{
		Path: cfg.Server.Command,
		Args: []string{cfg.Server.Mode, "--port", strconv.Itoa(cfg.Server.Port)},
		Dir:  cfg.Bench.AppDir,
		Env: map[string]string{
			"__NEXT_TEST_MODE": "1",
			"FORCE_COLOR":      "3",
		},
		Mode:  proc.Mode(cfg.Server.Mode),
		Ready: readyRe,
		Quiet: cfg.Server.Quiet,
		Debug: h.debug,
	})
	if err != nil {
		return result, err
	}
	if p == nil {
		return result, ErrServerExited
	}
	// The tree kill is mandatory on every path; an orphaned server would
	// outlive the harness otherwise. Terminate is idempotent.
	defer p.Terminate()

	// The root request triggers the first compile, so the watcher must be
	// in place before the probe goes out.
	firstCh := p.AwaitMilestone(milestoneRe)
	url := fmt.Sprintf("http://localhost:%d/", cfg.Server.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return checkLiveness(url)
	})
	g.Go(func() error {
		select {
		case <-firstCh:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return result, err
	}
	if h.debug {
		log.Printf("[bench] server ready, starting %d edit rounds", cfg.Bench.Rounds)
	}

	for round := 1; round <= cfg.Bench.Rounds; round++ {
		ch := p.AwaitMilestone(milestoneRe)
		marker := fmt.Sprintf("// bench edit %d", round)
		if err := file.Prepend(marker); err != nil {
			return result, err
		}
		select {
		case m := <-ch:
			if h.debug {
				log.Printf("[bench] edit %d recompiled in %.1f ms (%d modules)", round, m.ElapsedTimeMs, m.ModuleCount)
			}
			result.Milestones = append(result.Milestones, m)
		case <-ctx.Done():
			return result, ctx.Err()
		}
		if round < cfg.Bench.Rounds {
			// Settle so the next edit is not coalesced with this one.
			time.Sleep(cfg.SettleDelay())
		}
	}

	if err := p.Terminate(); err != nil {
		return result, err
	}
	if err := os.RemoveAll(cfg.BuildDirPath()); err != nil {
		return result, fmt.Errorf("removing %s: %w", cfg.BuildDirPath(), err)
	}

	if cfg.Bench.CleanupCommand != "" {
		if h.debug {
			log.Printf("[bench] running cleanup command: %s", cfg.Bench.CleanupCommand)
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", cfg.Bench.CleanupCommand)
		cmd.Dir = cfg.Bench.AppDir
		if !cfg.Server.Quiet {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Run(); err != nil {
			return result, fmt.Errorf("cleanup command: %w", err)
		}
	}

	duration, err := tracelog.ExtractDuration(cfg.TracePath(), cfg.Bench.TraceEvent)
	if err != nil {
		return result, err
	}
	result.BuildDurationMs = duration
	return result, nil
}

// checkLiveness issues one unauthenticated GET and requires a 200.
func checkLiveness(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return &LivenessCheckError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &LivenessCheckError{URL: url, Status: resp.StatusCode}
	}
	return nil
}
