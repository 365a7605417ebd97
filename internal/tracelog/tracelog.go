// Package tracelog reads the newline-delimited JSON trace emitted by the
// benchmarked server and recovers the duration of a named event.
package tracelog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Record is one decoded trace event. Name and Duration are the fields the
// harness depends on; everything else the server wrote is kept raw in
// Fields for forward compatibility.
type Record struct {
	Name     string
	Duration float64
	Fields   map[string]json.RawMessage
}

// UnmarshalJSON decodes a record with explicit validation instead of
// untyped access.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["name"]; ok {
		if err := json.Unmarshal(raw, &r.Name); err != nil {
			return fmt.Errorf("decoding name: %w", err)
		}
		delete(fields, "name")
	}
	if raw, ok := fields["duration"]; ok {
		if err := json.Unmarshal(raw, &r.Duration); err != nil {
			return fmt.Errorf("decoding duration: %w", err)
		}
		delete(fields, "duration")
	}
	r.Fields = fields
	return nil
}

// TraceReadError reports that the trace file could not be read at all.
type TraceReadError struct {
	Path string
	Err  error
}

func (e *TraceReadError) Error() string {
	return fmt.Sprintf("reading trace %s: %v", e.Path, e.Err)
}

func (e *TraceReadError) Unwrap() error { return e.Err }

// TraceEventNotFoundError reports that the final trace batch has no event
// with the requested name.
type TraceEventNotFoundError struct {
	Path string
	Name string
}

func (e *TraceEventNotFoundError) Error() string {
	return fmt.Sprintf("trace %s: no event named %q in final batch", e.Path, e.Name)
}

// ExtractDuration returns the duration of the first event named eventName
// in the trace's last batch. The trace is append-only and chronologically
// ordered, and the build summary is written once in the final batch, so
// only the last non-empty line is searched. A line that fails to decode is
// a malformed trace and fails the call.
func ExtractDuration(path, eventName string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &TraceReadError{Path: path, Err: err}
	}

	var batches [][]Record
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		batch, err := decodeBatch(line)
		if err != nil {
			return 0, fmt.Errorf("trace %s line %d: %w", path, i+1, err)
		}
		batches = append(batches, batch)
	}
	if len(batches) == 0 {
		return 0, &TraceEventNotFoundError{Path: path, Name: eventName}
	}

	for _, rec := range batches[len(batches)-1] {
		if rec.Name == eventName {
			return rec.Duration, nil
		}
	}
	return 0, &TraceEventNotFoundError{Path: path, Name: eventName}
}

// decodeBatch parses one trace line. Lines are normally arrays of records;
// a single object is tolerated as a one-element batch.
func decodeBatch(line string) ([]Record, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "{") {
		var rec Record
		if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}
	var batch []Record
	if err := json.Unmarshal([]byte(trimmed), &batch); err != nil {
		return nil, err
	}
	return batch, nil
}
