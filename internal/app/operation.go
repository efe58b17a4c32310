package app

import "time"

// Operation identifies one CLI invocation. Its ID tags every line the
// invocation writes to the log file, so interleaved daemon and manual runs
// can be told apart.
type Operation struct {
	Name      string
	StartedAt time.Time
}

// NewOperation creates an operation named after the command being run.
func NewOperation(name string, startedAt time.Time) *Operation {
	return &Operation{Name: name, StartedAt: startedAt}
}

// ID returns "<UTC start>-<name>", e.g. "20240115T103000Z-run".
func (op *Operation) ID() string {
	id := op.StartedAt.UTC().Format("20060102T150405Z")
	if op.Name == "" {
		return id
	}
	return id + "-" + op.Name
}
