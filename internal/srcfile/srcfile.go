// Package srcfile tracks a source file's pristine content and applies
// reversible edits to it during a benchmark run.
package srcfile

import (
	"fmt"
	"os"
	"strings"
)

// PatternNotFoundError is returned by Replace when the requested pattern
// does not occur in the file's current content. It carries the pattern and
// the content so a failed run can be diagnosed from the error alone.
type PatternNotFoundError struct {
	Path    string
	Pattern string
	Content string
}

func (e *PatternNotFoundError) Error() string {
	return fmt.Sprintf("pattern %q not found in %s (content: %q)", e.Pattern, e.Path, e.Content)
}

// Handle tracks one file. The original content is captured exactly once, at
// construction, before any mutation; Restore puts it back byte-for-byte.
type Handle struct {
	path     string
	original string
	existed  bool
	snapshot bool // original has been captured
}

// New creates a handle for path and snapshots its current content. A file
// that does not exist yet is recorded as absent so Restore can delete it
// again. The disk is never touched by construction.
func New(path string) (*Handle, error) {
	h := &Handle{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("snapshotting %s: %w", path, err)
		}
		h.snapshot = true
		return h, nil
	}
	h.original = string(data)
	h.existed = true
	h.snapshot = true
	return h, nil
}

// Path returns the tracked file's path.
func (h *Handle) Path() string { return h.path }

// Write persists content, overwriting whatever is on disk. If no snapshot
// was captured yet (unreachable after New) the snapshot is backfilled with
// content.
func (h *Handle) Write(content string) error {
	if !h.snapshot {
		h.original = content
		h.existed = true
		h.snapshot = true
	}
	if err := os.WriteFile(h.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", h.path, err)
	}
	return nil
}

// Replace substitutes the first occurrence of pattern with replacement.
// A missing pattern fails with PatternNotFoundError and leaves the file
// untouched.
func (h *Handle) Replace(pattern, replacement string) error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", h.path, err)
	}
	content := string(data)
	if !strings.Contains(content, pattern) {
		return &PatternNotFoundError{Path: h.path, Pattern: pattern, Content: content}
	}
	return h.Write(strings.Replace(content, pattern, replacement, 1))
}

// Prepend writes line followed by a newline ahead of the current content.
// Prepending a comment is the minimal edit that triggers a recompile
// without changing behavior.
func (h *Handle) Prepend(line string) error {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", h.path, err)
	}
	return h.Write(line + "\n" + string(data))
}

// Delete removes the file from disk. The in-memory snapshot is kept so
// Restore still works.
func (h *Handle) Delete() error {
	if err := os.Remove(h.path); err != nil {
		return fmt.Errorf("deleting %s: %w", h.path, err)
	}
	return nil
}

// Restore writes the original snapshot back, or deletes the file if it did
// not exist when the handle was constructed. Callers defer this
// unconditionally so every exit path of a run leaves the tree pristine.
func (h *Handle) Restore() error {
	if !h.existed {
		err := os.Remove(h.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", h.path, err)
		}
		return nil
	}
	if err := os.WriteFile(h.path, []byte(h.original), 0644); err != nil {
		return fmt.Errorf("restoring %s: %w", h.path, err)
	}
	return nil
}
