package proc

import (
	"regexp"
	"strconv"
)

// Milestone is one recompilation-complete event parsed from the server's
// output.
type Milestone struct {
	ElapsedTimeMs float64
	ModuleCount   int
}

// DefaultMilestonePattern matches the dev server's recompile summary, e.g.
// "event - compiled successfully in 650 ms (234 modules)" or
// "... in 1.2 s (234 modules)". Capture groups: duration value, unit,
// module count.
var DefaultMilestonePattern = regexp.MustCompile(`compiled.*? in (\d+(?:\.\d+)?) ?(ms|s) \((\d+) modules\)`)

// AwaitMilestone registers a one-shot stdout listener that fires on the
// first line matching pattern and delivers the parsed milestone on the
// returned channel. The listener removes itself after the first match, so
// later matching lines are not intercepted and sequential awaits on the
// same process never cross-talk. No timeout is applied; bounding the wait
// is the caller's job.
func (p *Process) AwaitMilestone(pattern *regexp.Regexp) <-chan Milestone {
	ch := make(chan Milestone, 1)
	p.subscribeOnce(func(line string) bool {
		m, ok := parseMilestone(pattern, line)
		if !ok {
			return false
		}
		ch <- m
		return true
	})
	return ch
}

// parseMilestone extracts a milestone from one output line. Durations
// reported in seconds are normalized to milliseconds.
func parseMilestone(pattern *regexp.Regexp, line string) (Milestone, bool) {
	groups := pattern.FindStringSubmatch(line)
	if groups == nil || len(groups) < 4 {
		return Milestone{}, false
	}
	elapsed, err := strconv.ParseFloat(groups[1], 64)
	if err != nil {
		return Milestone{}, false
	}
	if groups[2] == "s" {
		elapsed *= 1000
	}
	modules, err := strconv.Atoi(groups[3])
	if err != nil {
		return Milestone{}, false
	}
	return Milestone{ElapsedTimeMs: elapsed, ModuleCount: modules}, true
}
