package proc

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSpawnWaitsForReadiness(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnOptions{
		Path:  "sh",
		Args:  []string{"-c", `echo "event - compiled client and server successfully"; sleep 5`},
		Mode:  ModeDev,
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p == nil {
		t.Fatal("got nil process, want live handle after readiness")
	}
	defer p.Terminate()

	if p.PID() == 0 {
		t.Error("got zero PID")
	}
}

func TestSpawnCustomReadinessPattern(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnOptions{
		Path:  "sh",
		Args:  []string{"-c", `echo "listening on :3000"; sleep 5`},
		Ready: regexp.MustCompile(`listening on`),
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p == nil {
		t.Fatal("got nil process")
	}
	p.Terminate()
}

func TestSpawnImmediateExitResolvesWithNoHandle(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnOptions{
		Path:  "sh",
		Args:  []string{"-c", "true"},
		Mode:  ModeDev,
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p != nil {
		p.Terminate()
		t.Fatal("got live handle, want nil for a process that exits before readiness")
	}
}

func TestSpawnReadinessBeatsExit(t *testing.T) {
	// The readiness line is printed right before exit; the buffered pipe
	// must still deliver it and Spawn must prefer it over the exit.
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnOptions{
		Path:  "sh",
		Args:  []string{"-c", `echo "started server on port 3000"`},
		Mode:  ModeStart,
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p == nil {
		t.Fatal("got nil process, want handle for readiness emitted before exit")
	}
	<-p.Done()
}

func TestSpawnMissingExecutable(t *testing.T) {
	ctx := context.Background()
	_, err := Spawn(ctx, SpawnOptions{
		Path:  "/nonexistent/definitely-not-a-binary",
		Mode:  ModeDev,
		Quiet: true,
	})
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("got %v, want SpawnError", err)
	}
}

func TestSpawnEnvOverlayAndUnset(t *testing.T) {
	t.Setenv("BENCH_DROP_ME", "should-vanish")

	var out bytes.Buffer
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnOptions{
		Path:       "sh",
		Args:       []string{"-c", `echo "ready"; echo "SET=$BENCH_SET_ME DROP=$BENCH_DROP_ME"`},
		Env:        map[string]string{"BENCH_SET_ME": "hello"},
		Unset:      []string{"BENCH_DROP_ME"},
		Ready:      regexp.MustCompile(`ready`),
		StdoutSink: &out,
		Quiet:      true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p == nil {
		t.Fatal("got nil process")
	}
	<-p.Done()

	got := out.String()
	if !strings.Contains(got, "SET=hello") {
		t.Errorf("overlay variable missing from output: %q", got)
	}
	if strings.Contains(got, "should-vanish") {
		t.Errorf("unset variable leaked into output: %q", got)
	}
}

func TestTerminateKillsProcessTree(t *testing.T) {
	ctx := context.Background()
	// The shell forks a child so the kill must reach the whole group.
	p, err := Spawn(ctx, SpawnOptions{
		Path:  "sh",
		Args:  []string{"-c", `echo "ready"; sleep 30 & wait`},
		Ready: regexp.MustCompile(`ready`),
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p == nil {
		t.Fatal("got nil process")
	}

	doneCh := make(chan error, 1)
	go func() { doneCh <- p.Terminate() }()
	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("Terminate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Terminate did not confirm within 5s")
	}
}

func TestTerminateAlreadyExitedIsSuccess(t *testing.T) {
	ctx := context.Background()
	p, err := Spawn(ctx, SpawnOptions{
		Path:  "sh",
		Args:  []string{"-c", `echo "ready"`},
		Ready: regexp.MustCompile(`ready`),
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if p == nil {
		t.Fatal("got nil process")
	}
	<-p.Done()

	if err := p.Terminate(); err != nil {
		t.Errorf("Terminate on exited process: %v, want idempotent success", err)
	}
	// Second call must stay successful too.
	if err := p.Terminate(); err != nil {
		t.Errorf("second Terminate: %v, want idempotent success", err)
	}
}

func newTestProcess() *Process {
	return &Process{
		subs: make(map[int]func(string)),
		done: make(chan struct{}),
	}
}

func TestAwaitMilestoneOneShot(t *testing.T) {
	p := newTestProcess()

	first := p.AwaitMilestone(DefaultMilestonePattern)
	p.dispatch("event - compiled successfully in 100 ms (5 modules)")
	p.dispatch("event - compiled successfully in 200 ms (6 modules)")
	p.dispatch("event - compiled successfully in 300 ms (7 modules)")

	m := <-first
	if m.ElapsedTimeMs != 100 || m.ModuleCount != 5 {
		t.Errorf("got %+v, want first milestone {100 5}", m)
	}
	select {
	case m := <-first:
		t.Errorf("one-shot watcher fired again with %+v", m)
	default:
	}

	p.mu.Lock()
	remaining := len(p.subs)
	p.mu.Unlock()
	if remaining != 0 {
		t.Errorf("listener not removed after first match, %d still registered", remaining)
	}
}

func TestAwaitMilestoneSequentialRounds(t *testing.T) {
	p := newTestProcess()

	first := p.AwaitMilestone(DefaultMilestonePattern)
	p.dispatch("event - compiled successfully in 100 ms (5 modules)")
	if m := <-first; m.ModuleCount != 5 {
		t.Fatalf("round 1: got %+v", m)
	}

	second := p.AwaitMilestone(DefaultMilestonePattern)
	p.dispatch("event - compiled successfully in 250 ms (8 modules)")
	if m := <-second; m.ElapsedTimeMs != 250 || m.ModuleCount != 8 {
		t.Fatalf("round 2: got %+v", m)
	}
}

func TestAwaitMilestoneIgnoresUnrelatedOutput(t *testing.T) {
	p := newTestProcess()

	ch := p.AwaitMilestone(DefaultMilestonePattern)
	p.dispatch("wait - compiling...")
	p.dispatch("warn - fast refresh had to perform a full reload")
	select {
	case m := <-ch:
		t.Fatalf("watcher fired on unrelated output: %+v", m)
	default:
	}

	p.dispatch("event - compiled client and server successfully in 650 ms (234 modules)")
	if m := <-ch; m.ElapsedTimeMs != 650 || m.ModuleCount != 234 {
		t.Errorf("got %+v", m)
	}
}

func TestParseMilestoneUnits(t *testing.T) {
	m, ok := parseMilestone(DefaultMilestonePattern, "event - compiled successfully in 650 ms (234 modules)")
	if !ok {
		t.Fatal("no match for ms line")
	}
	if m.ElapsedTimeMs != 650 {
		t.Errorf("got %v ms, want 650", m.ElapsedTimeMs)
	}

	m, ok = parseMilestone(DefaultMilestonePattern, "event - compiled successfully in 1.2 s (234 modules)")
	if !ok {
		t.Fatal("no match for seconds line")
	}
	if m.ElapsedTimeMs != 1200 {
		t.Errorf("got %v ms, want 1200", m.ElapsedTimeMs)
	}
	if m.ModuleCount != 234 {
		t.Errorf("got %d modules, want 234", m.ModuleCount)
	}
}

func TestDispatchConcurrentSubscribers(t *testing.T) {
	p := newTestProcess()

	var wg sync.WaitGroup
	channels := make([]<-chan Milestone, 4)
	for i := range channels {
		channels[i] = p.AwaitMilestone(DefaultMilestonePattern)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.dispatch("event - compiled successfully in 42 ms (3 modules)")
	}()
	wg.Wait()

	for i, ch := range channels {
		select {
		case m := <-ch:
			if m.ElapsedTimeMs != 42 {
				t.Errorf("subscriber %d: got %+v", i, m)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never fired", i)
		}
	}
}

func TestAwaitMilestoneRegistrationDuringDispatch(t *testing.T) {
	// A live server emits output continuously, so a watcher can receive a
	// matching line before its registration call has returned. Hammer the
	// dispatcher from several goroutines while watchers come and go; each
	// watcher must fire exactly once and leave no listener behind.
	p := newTestProcess()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					p.dispatch("event - compiled successfully in 42 ms (3 modules)")
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		ch := p.AwaitMilestone(DefaultMilestonePattern)
		select {
		case m := <-ch:
			if m.ElapsedTimeMs != 42 || m.ModuleCount != 3 {
				t.Fatalf("watcher %d: got %+v", i, m)
			}
		case <-time.After(time.Second):
			t.Fatalf("watcher %d never fired", i)
		}
		select {
		case m := <-ch:
			t.Fatalf("watcher %d fired twice with %+v", i, m)
		default:
		}
	}
	close(stop)
	wg.Wait()

	p.mu.Lock()
	remaining := len(p.subs)
	p.mu.Unlock()
	if remaining != 0 {
		t.Errorf("%d listeners still registered after all watchers fired", remaining)
	}
}

func TestOverlayEnv(t *testing.T) {
	got := overlayEnv(
		[]string{"A=1", "B=2", "C=3"},
		map[string]string{"B": "override"},
		[]string{"C"},
	)

	joined := strings.Join(got, "\n")
	if !strings.Contains(joined, "A=1") {
		t.Errorf("inherited A lost: %v", got)
	}
	if !strings.Contains(joined, "B=override") || strings.Contains(joined, "B=2") {
		t.Errorf("B not overridden: %v", got)
	}
	if strings.Contains(joined, "C=3") {
		t.Errorf("C not unset: %v", got)
	}
}
