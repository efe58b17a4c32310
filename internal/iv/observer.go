package iv

import (
	"sync"
	"time"
)

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseIdle         Phase = "Idle"
	PhaseScanning     Phase = "Scanning"
	PhaseHashing      Phase = "Hashing"
	PhaseDiffing      Phase = "Diffing"
	PhaseCompressing  Phase = "Compressing"
	PhaseTransferring Phase = "Transferring"
	PhaseVerifying    Phase = "Verifying"
	PhaseCompleted    Phase = "Completed"
	PhaseFailed       Phase = "Failed"
	PhaseCancelled    Phase = "Cancelled"
)

// Phases lists the working phases of a run in execution order.
var Phases = []Phase{PhaseScanning, PhaseHashing, PhaseDiffing, PhaseCompressing, PhaseTransferring, PhaseVerifying}

// phaseWeights are the share of the progress bar each phase covers. They sum to 100.
var phaseWeights = map[Phase]float64{
	PhaseScanning:     10,
	PhaseHashing:      25,
	PhaseDiffing:      5,
	PhaseCompressing:  20,
	PhaseTransferring: 30,
	PhaseVerifying:    10,
}

// PhaseWeight returns the percentage of a run attributed to p.
func PhaseWeight(p Phase) float64 { return phaseWeights[p] }

// Network reports whether the phase talks to the destination. Timeouts in
// network phases are retried; timeouts in local phases fail the run.
func (p Phase) Network() bool {
	return p == PhaseTransferring || p == PhaseVerifying
}

// ProgressEvent reports a phase transition or progress within a phase.
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Percent   float64   `json:"percent"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer receives progress events. Calls are made from the run's goroutine.
type Observer interface {
	OnProgress(ev ProgressEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev ProgressEvent)

func (f ObserverFunc) OnProgress(ev ProgressEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) OnProgress(ProgressEvent) {}

// progress turns per-phase unit counts into a non-decreasing percentage.
type progress struct {
	mu       sync.Mutex
	jobID    string
	runID    string
	observer Observer
	clock    Clock
	percent  float64
}

func newProgress(jobID, runID string, observer Observer, clock Clock) *progress {
	if observer == nil {
		observer = nopObserver{}
	}
	return &progress{jobID: jobID, runID: runID, observer: observer, clock: clock}
}

// phaseStart returns the percentage at which phase p begins.
func phaseStart(p Phase) float64 {
	var start float64
	for _, q := range Phases {
		if q == p {
			return start
		}
		start += phaseWeights[q]
	}
	return start
}

// enter reports the start of phase p.
func (pr *progress) enter(p Phase) {
	pr.report(p, phaseStart(p))
}

// step reports done of total units finished within phase p.
func (pr *progress) step(p Phase, done, total int) {
	frac := 1.0
	if total > 0 {
		frac = float64(done) / float64(total)
	}
	if frac > 1 {
		frac = 1
	}
	pr.report(p, phaseStart(p)+phaseWeights[p]*frac)
}

// finish reports a terminal phase. Only completion moves the bar to 100.
func (pr *progress) finish(p Phase) {
	if p == PhaseCompleted {
		pr.report(p, 100)
		return
	}
	pr.report(p, pr.current())
}

func (pr *progress) current() float64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.percent
}

func (pr *progress) report(p Phase, percent float64) {
	pr.mu.Lock()
	if percent < pr.percent {
		percent = pr.percent
	}
	if percent > 100 {
		percent = 100
	}
	pr.percent = percent
	pr.mu.Unlock()

	pr.observer.OnProgress(ProgressEvent{
		JobID:     pr.jobID,
		RunID:     pr.runID,
		Phase:     p,
		Percent:   percent,
		Timestamp: pr.clock.Now(),
	})
}
