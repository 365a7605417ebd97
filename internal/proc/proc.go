// Package proc manages the benchmarked server process: spawning with an
// environment overlay, streaming its output line-by-line to subscribers,
// awaiting readiness and recompile milestones, and killing the whole
// process tree on teardown.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"syscall"
)

// Mode selects how the server is launched and which readiness marker is
// expected by default.
type Mode string

const (
	// ModeDev is the watch/recompile development mode.
	ModeDev Mode = "dev"
	// ModeStart is the production-style serve mode.
	ModeStart Mode = "start"
)

var (
	devReadyPattern   = regexp.MustCompile(`compiled .*successfully`)
	startReadyPattern = regexp.MustCompile(`started server`)
)

// defaultReadyPattern returns the readiness marker for a launch mode.
func defaultReadyPattern(mode Mode) *regexp.Regexp {
	if mode == ModeStart {
		return startReadyPattern
	}
	return devReadyPattern
}

// SpawnError reports that the executable could not be launched at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// SpawnOptions configures a managed subprocess.
type SpawnOptions struct {
	Path string
	Args []string

	// Dir is the working directory; empty means inherit the caller's.
	Dir string

	// Env entries are overlaid on os.Environ(). Unset names are removed
	// from the inherited environment.
	Env   map[string]string
	Unset []string

	// Ready overrides the mode's default readiness marker.
	Mode  Mode
	Ready *regexp.Regexp

	// StdoutSink and StderrSink receive every output line, if set. Unless
	// Quiet, output is also echoed to the harness's own streams.
	StdoutSink io.Writer
	StderrSink io.Writer
	Quiet      bool

	Debug bool
}

// Process is a live managed subprocess. Its stdout is fanned out
// line-by-line to subscribers registered with subscribe.
type Process struct {
	cmd   *exec.Cmd
	debug bool

	mu      sync.Mutex
	subs    map[int]func(string)
	nextSub int

	done    chan struct{} // closed after Wait returns
	waitErr error
}

// Spawn launches the executable and waits for its readiness marker on
// stdout. If the process exits before the marker appears, Spawn returns
// (nil, nil): a short-lived invocation is a valid, degenerate outcome, not
// a spawn failure. Only a launch error rejects.
func Spawn(ctx context.Context, opts SpawnOptions) (*Process, error) {
	cmd := exec.CommandContext(ctx, opts.Path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = overlayEnv(os.Environ(), opts.Env, opts.Unset)
	// Own process group so Terminate can kill the server together with the
	// build workers it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: opts.Path, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Path: opts.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: opts.Path, Err: err}
	}

	p := &Process{
		cmd:   cmd,
		debug: opts.Debug,
		subs:  make(map[int]func(string)),
		done:  make(chan struct{}),
	}
	if p.debug {
		log.Printf("[proc] started %s with PID %d", opts.Path, cmd.Process.Pid)
	}

	outEcho := io.Writer(os.Stdout)
	errEcho := io.Writer(os.Stderr)
	if opts.Quiet {
		outEcho, errEcho = nil, nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.consume(stdout, outEcho, opts.StdoutSink, true)
	}()
	go func() {
		defer wg.Done()
		p.consume(stderr, errEcho, opts.StderrSink, false)
	}()
	go func() {
		wg.Wait()
		p.waitErr = cmd.Wait()
		if p.debug {
			log.Printf("[proc] PID %d exited: %v", cmd.Process.Pid, p.waitErr)
		}
		close(p.done)
	}()

	ready := opts.Ready
	if ready == nil {
		ready = defaultReadyPattern(opts.Mode)
	}
	readyCh := make(chan struct{}, 1)
	cancel := p.subscribe(func(line string) {
		if ready.MatchString(line) {
			select {
			case readyCh <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	select {
	case <-readyCh:
		return p, nil
	case <-p.done:
		// Drain a readiness signal that raced the exit.
		select {
		case <-readyCh:
			return p, nil
		default:
		}
		return nil, nil
	}
}

// consume reads lines from r, echoes and forwards them, and dispatches
// stdout lines to subscribers. Matching is per delivered line, which keeps
// split-chunk patterns intact.
func (p *Process) consume(r io.Reader, echo, sink io.Writer, dispatch bool) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if echo != nil {
			fmt.Fprintln(echo, line)
		}
		if sink != nil {
			fmt.Fprintln(sink, line)
		}
		if dispatch {
			p.dispatch(line)
		}
	}
}

func (p *Process) dispatch(line string) {
	p.mu.Lock()
	subs := make([]func(string), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(line)
	}
}

// subscribe registers fn for every stdout line and returns its remover.
func (p *Process) subscribe(fn func(string)) (cancel func()) {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// subscribeOnce registers fn for stdout lines and deregisters it as soon
// as fn reports a line consumed. The remover is wired up from the id
// before the subscriber becomes visible to dispatch, so a delivery racing
// the registration never sees a half-built subscription. dispatch calls
// from a snapshot, so a racing delivery can still reach the wrapper after
// consumption; the fired guard keeps fn single-fire.
func (p *Process) subscribeOnce(fn func(string) bool) {
	var (
		fireMu sync.Mutex
		fired  bool
	)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = func(line string) {
		fireMu.Lock()
		defer fireMu.Unlock()
		if fired || !fn(line) {
			return
		}
		fired = true
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
	p.mu.Unlock()
}

// PID returns the process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// overlayEnv merges set over base and removes unset names. Entries in base
// shadowed by set or named in unset are dropped.
func overlayEnv(base []string, set map[string]string, unset []string) []string {
	drop := make(map[string]bool, len(set)+len(unset))
	for k := range set {
		drop[k] = true
	}
	for _, k := range unset {
		drop[k] = true
	}

	env := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if drop[name] {
			continue
		}
		env = append(env, kv)
	}
	for k, v := range set {
		env = append(env, k+"="+v)
	}
	return env
}
