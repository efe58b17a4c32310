package iv

import (
	"testing"
	"time"
)

type fixedClock struct{}

func (fixedClock) Now() time.Time                       { return time.Time{} }
func (fixedClock) After(time.Duration) <-chan time.Time { return nil }

func TestPhaseWeightsSumTo100(t *testing.T) {
	var sum float64
	for _, p := range Phases {
		sum += PhaseWeight(p)
	}
	if sum != 100 {
		t.Errorf("phase weights sum to %v", sum)
	}
}

func TestProgress(t *testing.T) {
	var events []ProgressEvent
	pr := newProgress("job", "run", ObserverFunc(func(ev ProgressEvent) { events = append(events, ev) }), fixedClock{})

	pr.enter(PhaseScanning)
	pr.step(PhaseScanning, 1, 1)
	pr.enter(PhaseHashing)
	pr.step(PhaseHashing, 1, 2)
	pr.step(PhaseHashing, 3, 2)  // overshoot clamps to the phase end
	pr.step(PhaseScanning, 0, 1) // late report never moves backwards
	pr.step(PhaseDiffing, 0, 0)  // nothing to do counts as done
	pr.finish(PhaseFailed)

	want := []float64{0, 10, 10, 22.5, 35, 35, 40, 40}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Percent != want[i] {
			t.Errorf("event %d (%s) = %v%%, want %v%%", i, ev.Phase, ev.Percent, want[i])
		}
		if ev.JobID != "job" || ev.RunID != "run" {
			t.Errorf("event %d ids = %s/%s", i, ev.JobID, ev.RunID)
		}
	}
	if last := events[len(events)-1]; last.Phase != PhaseFailed {
		t.Errorf("last phase = %s, want Failed", last.Phase)
	}

	pr.finish(PhaseCompleted)
	if pr.current() != 100 {
		t.Errorf("completed at %v%%", pr.current())
	}
}

func TestPhaseNetwork(t *testing.T) {
	for _, p := range Phases {
		want := p == PhaseTransferring || p == PhaseVerifying
		if p.Network() != want {
			t.Errorf("%s.Network() = %v", p, p.Network())
		}
	}
}
