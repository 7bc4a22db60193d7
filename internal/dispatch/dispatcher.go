// Package dispatch turns attention verdicts into volume commands. It owns
// the normal/dimmed state machine, debounces repeated dims and auto-restores
// the volume after a silence timeout.
package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// State of the listener's volume.
type State int

const (
	// StateNormal means playback volume is untouched.
	StateNormal State = iota
	// StateDimmed means a DIM command was sent and not yet restored.
	StateDimmed
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateDimmed {
		return "dimmed"
	}
	return "normal"
}

const (
	dimDefiniteConfidence = 0.95
	dimProbableConfidence = 0.7
	restoreConfidence     = 1.0

	// probableSensitivityFloor: PROBABLY_TO_ME only dims above this.
	probableSensitivityFloor = 0.5
)

// Sink receives every emitted volume command. The hub broadcasts them to all
// connected clients.
type Sink func(types.VolumeCommand)

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher is the verdict-to-command state machine. All state is guarded by
// one mutex; the verdict-delivery path and the timer-expiry path never
// interleave. At most one silence timer is pending at any moment.
type Dispatcher struct {
	mu             sync.Mutex
	state          State
	timer          *time.Timer
	timerGen       uint64
	silenceTimeout time.Duration
	sensitivity    float64
	lastCommandAt  time.Time

	sink Sink
	log  *slog.Logger
	now  func() time.Time
}

// New creates a Dispatcher emitting commands to sink.
func New(sink Sink, sensitivity float64, silenceTimeout time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:           sink,
		sensitivity:    sensitivity,
		silenceTimeout: silenceTimeout,
		log:            slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleVerdict applies one attention verdict to the state machine.
func (d *Dispatcher) HandleVerdict(v types.AttentionVerdict) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateNormal:
		switch v.Kind {
		case types.AttentionDefinitely:
			d.emitLocked(types.VolumeDim, v.Kind, dimDefiniteConfidence)
			d.state = StateDimmed
			d.startTimerLocked()
		case types.AttentionProbably:
			if d.sensitivity > probableSensitivityFloor {
				d.emitLocked(types.VolumeDim, v.Kind, dimProbableConfidence)
				d.state = StateDimmed
				d.startTimerLocked()
			}
		case types.AttentionIgnore:
			// No command and no timer while the volume is untouched.
		}

	case StateDimmed:
		switch v.Kind {
		case types.AttentionDefinitely:
			d.startTimerLocked()
		case types.AttentionProbably:
			if d.sensitivity > probableSensitivityFloor {
				d.startTimerLocked()
			}
		case types.AttentionIgnore:
			if d.timer == nil {
				d.startTimerLocked()
			}
		}
	}
}

// ForceDim emits a DIM unconditionally and starts a fresh silence timer.
func (d *Dispatcher) ForceDim() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelTimerLocked()
	d.emitLocked(types.VolumeDim, types.AttentionDefinitely, dimDefiniteConfidence)
	d.state = StateDimmed
	d.startTimerLocked()
}

// ForceRestore cancels any pending timer and, if dimmed, emits a RESTORE.
func (d *Dispatcher) ForceRestore() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelTimerLocked()
	if d.state == StateDimmed {
		d.emitLocked(types.VolumeRestore, types.AttentionIgnore, restoreConfidence)
		d.state = StateNormal
	}
}

// SetSensitivity changes the threshold for PROBABLY_TO_ME dims.
func (d *Dispatcher) SetSensitivity(v float64) {
	d.mu.Lock()
	d.sensitivity = v
	d.mu.Unlock()
}

// SetSilenceTimeout changes the auto-restore delay for subsequently started
// timers; a pending timer keeps its original deadline.
func (d *Dispatcher) SetSilenceTimeout(t time.Duration) {
	d.mu.Lock()
	d.silenceTimeout = t
	d.mu.Unlock()
}

// State returns the current volume state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop cancels any pending timer without emitting.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.cancelTimerLocked()
	d.mu.Unlock()
}

// startTimerLocked (re)starts the single silence timer. The generation
// counter invalidates callbacks of timers that were since replaced or
// cancelled.
func (d *Dispatcher) startTimerLocked() {
	d.cancelTimerLocked()
	d.timerGen++
	gen := d.timerGen
	d.timer = time.AfterFunc(d.silenceTimeout, func() { d.timerFired(gen) })
}

func (d *Dispatcher) cancelTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerGen++
}

func (d *Dispatcher) timerFired(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.timerGen {
		return
	}
	d.timer = nil
	if d.state != StateDimmed {
		return
	}
	d.emitLocked(types.VolumeRestore, types.AttentionIgnore, restoreConfidence)
	d.state = StateNormal
}

func (d *Dispatcher) emitLocked(kind types.VolumeCommandKind, trigger types.AttentionKind, confidence float64) {
	cmd := types.VolumeCommand{
		Type:          kind,
		Timestamp:     d.now(),
		TriggerReason: trigger,
		Confidence:    confidence,
	}
	d.lastCommandAt = cmd.Timestamp
	d.log.Debug("volume command", "type", kind, "trigger", trigger, "confidence", confidence)
	d.sink(cmd)
}
