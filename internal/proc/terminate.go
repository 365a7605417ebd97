package proc

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"syscall"
)

// TerminationError reports a kill that failed for a reason other than the
// target already being gone.
type TerminationError struct {
	PID int
	Err error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminating process group %d: %v", e.PID, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }

// Terminate kills the process and every descendant in its group, then
// waits for the exit to be observed. An already-dead process is success.
func (p *Process) Terminate() error {
	if err := KillTree(p.PID()); err != nil {
		return err
	}
	<-p.done
	return nil
}

// KillTree sends SIGKILL to the process group rooted at pid. The process
// was spawned with Setpgid, so the group id equals the pid and a signal to
// -pid reaches the whole tree. "No such process" means the tree is already
// gone and is treated as idempotent success.
func KillTree(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if alreadyGone(err) {
			log.Printf("[proc] process group %d already gone", pid)
			return nil
		}
		return &TerminationError{PID: pid, Err: err}
	}
	return nil
}

// alreadyGone recognizes the platform's "target no longer exists" errors.
func alreadyGone(err error) bool {
	if errors.Is(err, syscall.ESRCH) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no such process") ||
		strings.Contains(msg, "process already finished")
}
