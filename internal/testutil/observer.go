package testutil

import (
	"sync"

	"inertiavault/internal/iv"
)

// RecordingObserver keeps every progress event it receives.
type RecordingObserver struct {
	mu     sync.Mutex
	events []iv.ProgressEvent
}

func (o *RecordingObserver) OnProgress(ev iv.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

// Events returns a copy of the recorded events.
func (o *RecordingObserver) Events() []iv.ProgressEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]iv.ProgressEvent(nil), o.events...)
}
