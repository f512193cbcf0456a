package command

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core"
)

// ErrNotConnected is returned when a command is issued while the transport is down.
// Such commands are dropped, never queued for later delivery.
var ErrNotConnected = errors.New("not connected to the relay")

// Emitter is the outbound side of the transport.
type Emitter interface {
	Emit(event string, payload interface{}) error
	Connected() bool
}

// Stopper is what a scheduled timer returns. *time.Timer satisfies it.
type Stopper interface {
	Stop() bool
}

type Options struct {
	Logger  core.Logger
	Metrics core.Metrics

	// mockable
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) Stopper
}

// Dispatcher issues commands to the relay and tracks the optimistic lock state.
// It never resolves a Scope itself, and nothing it sends is acknowledged.
type Dispatcher struct {
	emitter   Emitter
	log       core.Logger
	metrics   core.Metrics
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) Stopper

	// sendMu orders lock/unlock commands with their transitions; mu guards the state only
	sendMu sync.Mutex
	mu     sync.Mutex
	lock   lockMachine
	timer  Stopper
}

func NewDispatcher(emitter Emitter, opts Options) *Dispatcher {
	d := &Dispatcher{
		emitter:   emitter,
		log:       opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
		afterFunc: opts.AfterFunc,
	}
	if d.log == nil {
		d.log = core.NopLogger
	}
	if d.metrics == nil {
		d.metrics = core.NopMetrics
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.afterFunc == nil {
		d.afterFunc = func(dur time.Duration, f func()) Stopper { return time.AfterFunc(dur, f) }
	}
	return d
}

func (d *Dispatcher) emit(cmd Command) error {
	if !d.emitter.Connected() {
		d.metrics.IncCounter(core.MetricCommandsDropped, cmd.EventName())
		d.log.Debug("command dropped, relay not connected", map[string]interface{}{"event": cmd.EventName()})
		return ErrNotConnected
	}
	if err := d.emitter.Emit(cmd.EventName(), cmd); err != nil {
		d.metrics.IncCounter(core.MetricCommandsDropped, cmd.EventName())
		return errors.Wrapf(err, "emitting %s", cmd.EventName())
	}
	d.metrics.IncCounter(core.MetricCommandsEmitted, cmd.EventName())
	return nil
}

// Register sends the teacher handshake.
func (d *Dispatcher) Register(name string) error {
	return d.emit(RegisterTeacher{Name: core.CleanString(name)})
}

// Lock asks the relay to lock the screens in `scope` and flips the local lock state on.
// A numeric duration arms a local timer that only turns the local state back off; it never sends an unlock.
func (d *Dispatcher) Lock(scope Scope, duration Duration, message string) error {
	if scope.explicit && len(scope.ids) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "students", Error: "at least one student is required"})
	}
	if !duration.IsManual() && duration.seconds <= 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "duration", Error: "duration must be positive or \"manual\""})
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	cmd := LockScreens{Students: scope, Duration: duration, Message: core.CleanString(message)}
	if err := d.emit(cmd); err != nil {
		return err
	}

	d.mu.Lock()
	d.stopTimer()
	gen := d.lock.lock(duration, d.now())
	if !duration.IsManual() {
		d.timer = d.afterFunc(duration.Duration(), func() { d.expire(gen) })
	}
	d.mu.Unlock()
	d.log.Info("screens locked", map[string]interface{}{"scope": scope.String(), "duration": duration.String()})
	return nil
}

// Unlock asks the relay to unlock `scope` and turns the local lock state off right away.
func (d *Dispatcher) Unlock(scope Scope) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if err := d.emit(UnlockScreens{Students: scope}); err != nil {
		return err
	}
	d.mu.Lock()
	d.stopTimer()
	d.lock.unlock()
	d.mu.Unlock()
	d.log.Info("screens unlocked", map[string]interface{}{"scope": scope.String()})
	return nil
}

func (d *Dispatcher) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lock.expire(gen) {
		d.timer = nil
		d.log.Debug("local lock timer expired")
	}
}

func (d *Dispatcher) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Dispatcher) LockState() LockState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lock.state()
}

// BroadcastMessage sends a message to "all" or to a single student id. Fire-and-forget.
func (d *Dispatcher) BroadcastMessage(target, message, msgType string) error {
	cmd := SendMessage{
		Target:  core.CleanString(target),
		Message: message,
		Type:    core.CleanString(msgType, true /* lower */),
	}
	if cmd.Target == "" {
		cmd.Target = scopeAll
	}
	if cmd.Type == "" {
		cmd.Type = MessageNormal
	}
	if err := core.ValidateStruct(cmd); err != nil {
		return err
	}
	return d.emit(cmd)
}

// CreatePoll drops blank options, then requires a question and at least 2 options.
// The maximum number of options is left to the producer.
func (d *Dispatcher) CreatePoll(question string, options []string) error {
	cmd := CreatePoll{
		Question: core.CleanString(question),
		Options:  core.CleanStrings(options),
	}
	if err := core.ValidateStruct(cmd); err != nil {
		return err
	}
	return d.emit(cmd)
}

// Close cancels the pending lock timer, if any.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.stopTimer()
	d.mu.Unlock()
}
