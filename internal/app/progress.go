package app

import (
	"fmt"
	"io"
	"sync"

	"inertiavault/internal/iv"
)

// ProgressPrinter writes one line per phase change of every run it observes.
// Progress within a phase is not printed.
type ProgressPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	names map[string]string
	last  map[string]iv.Phase
}

var _ iv.Observer = (*ProgressPrinter)(nil)

func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	return &ProgressPrinter{w: w, names: make(map[string]string), last: make(map[string]iv.Phase)}
}

// SetJobs makes runs of jobs show up under their names instead of their IDs.
func (p *ProgressPrinter) SetJobs(jobs []*iv.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, j := range jobs {
		p.names[j.ID] = j.Name
	}
}

func (p *ProgressPrinter) OnProgress(ev iv.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[ev.RunID] == ev.Phase {
		return
	}
	p.last[ev.RunID] = ev.Phase

	name := p.names[ev.JobID]
	if name == "" {
		name = ev.JobID
	}
	fmt.Fprintf(p.w, "%s: %s (%.0f%%)\n", name, ev.Phase, ev.Percent)
}
