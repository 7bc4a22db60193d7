package resilience

import (
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// warnAfter is the failure count at which a [Tracker] raises a warning for an
// operation. The warning fires once per burst: a success resets the counter
// and re-arms it.
const warnAfter = 3

// OperationStatus is a snapshot of one tracked operation, reported by
// [Tracker.Snapshot] for the /errors endpoint.
type OperationStatus struct {
	Operation   string    `json:"operation"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"lastFailure"`
	LastMessage string    `json:"lastMessage"`
}

// Tracker counts consecutive failures per named operation and raises a
// [types.Warning] the first time a counter reaches the threshold. It is the
// injected replacement for a process-wide error singleton; create one per
// server (or per test) and share it between components.
type Tracker struct {
	mu  sync.Mutex
	ops map[string]*opCounter

	// onWarning, when set, is invoked synchronously for each raised warning.
	onWarning func(types.Warning)

	warnings []types.Warning
}

type opCounter struct {
	failures    int
	warned      bool
	lastFailure time.Time
	lastMessage string
}

// NewTracker creates an empty [Tracker]. onWarning may be nil; when set it is
// called for every raised warning (from the goroutine that recorded the
// failure, so it must not block).
func NewTracker(onWarning func(types.Warning)) *Tracker {
	return &Tracker{
		ops:       make(map[string]*opCounter),
		onWarning: onWarning,
	}
}

// RecordFailure increments the counter for op. The first time the counter
// reaches the threshold a warning is raised; further failures in the same
// burst stay silent until a success re-arms the counter.
func (t *Tracker) RecordFailure(op string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	t.mu.Lock()
	c := t.ops[op]
	if c == nil {
		c = &opCounter{}
		t.ops[op] = c
	}
	c.failures++
	c.lastFailure = time.Now()
	c.lastMessage = msg

	var warning *types.Warning
	if c.failures >= warnAfter && !c.warned {
		c.warned = true
		w := types.Warning{
			Operation: op,
			Count:     c.failures,
			Message:   msg,
			Timestamp: c.lastFailure,
		}
		t.warnings = append(t.warnings, w)
		warning = &w
	}
	cb := t.onWarning
	t.mu.Unlock()

	if warning != nil && cb != nil {
		cb(*warning)
	}
}

// RecordSuccess resets the counter for op, re-arming the warning.
func (t *Tracker) RecordSuccess(op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.ops[op]; c != nil {
		c.failures = 0
		c.warned = false
	}
}

// Failures returns the current consecutive-failure count for op.
func (t *Tracker) Failures(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.ops[op]; c != nil {
		return c.failures
	}
	return 0
}

// Snapshot returns the status of every operation that has recorded at least
// one failure since startup, in unspecified order.
func (t *Tracker) Snapshot() []OperationStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]OperationStatus, 0, len(t.ops))
	for name, c := range t.ops {
		out = append(out, OperationStatus{
			Operation:   name,
			Failures:    c.failures,
			LastFailure: c.lastFailure,
			LastMessage: c.lastMessage,
		})
	}
	return out
}

// Warnings returns all warnings raised since startup, oldest first.
func (t *Tracker) Warnings() []types.Warning {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.Warning, len(t.warnings))
	copy(out, t.warnings)
	return out
}
