package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// callTimer pairs before/after hook invocations by request id.
type callTimer struct {
	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
}

func newCallTimer() *callTimer {
	return &callTimer{started: make(map[string]time.Time), now: time.Now}
}

func (t *callTimer) start(id any) {
	t.mu.Lock()
	t.started[fmt.Sprint(id)] = t.now()
	t.mu.Unlock()
}

// stop returns the elapsed time for id, or zero when start was never seen.
func (t *callTimer) stop(id any) time.Duration {
	key := fmt.Sprint(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	began, ok := t.started[key]
	if !ok {
		return 0
	}
	delete(t.started, key)
	return t.now().Sub(began)
}
