package classroom

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/command"
)

var (
	ErrSessionStarted  = errors.New("session already started")
	ErrSessionClosed   = errors.New("session closed")
	ErrReconnectFailed = errors.New("relay reconnection attempts exhausted")
)

// Transport is the event channel to the relay server.
// Events() must be closed once the transport is closed.
type Transport interface {
	command.Emitter
	Connect(ctx context.Context) error
	Events() <-chan RawEvent
	Close() error
}

type State int

const (
	StateIdle State = iota
	StateConnected
	StateDisconnected // dropped; the transport may be reconnecting
	StateFailed       // reconnection budget exhausted, needs a new Start
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Options struct {
	TeacherName string
	Logger      core.Logger
	Metrics     core.Metrics
	Commands    command.Options

	Now func() time.Time // mockable
}

// Session owns the synchronised classroom state of one teacher console: the roster, the telemetry cache,
// the poll answers and the command dispatcher. Inbound events are applied one at a time, in arrival
// order, by a single goroutine; everything else only reads.
type Session struct {
	id          string
	teacherName string
	transport   Transport
	dispatcher  *command.Dispatcher
	log         core.Logger
	metrics     core.Metrics
	now         func() time.Time

	roster    *Roster
	telemetry *Telemetry

	pollsMu sync.RWMutex
	polls   map[string]*PollTally

	stateMu sync.RWMutex
	state   State
	updates chan struct{}

	startOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once
}

var _ Handler = (*Session)(nil)

func NewSession(transport Transport, opts Options) *Session {
	s := &Session{
		id:          uuid.New().String(),
		teacherName: opts.TeacherName,
		transport:   transport,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
		roster:      NewRoster(),
		telemetry:   NewTelemetry(),
		polls:       make(map[string]*PollTally),
		updates:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	if s.teacherName == "" {
		s.teacherName = "Teacher"
	}
	if s.log == nil {
		s.log = core.NopLogger
	}
	if s.metrics == nil {
		s.metrics = core.NopMetrics
	}
	if s.now == nil {
		s.now = time.Now
	}
	cmdOpts := opts.Commands
	if cmdOpts.Logger == nil {
		cmdOpts.Logger = s.log
	}
	if cmdOpts.Metrics == nil {
		cmdOpts.Metrics = s.metrics
	}
	s.dispatcher = command.NewDispatcher(transport, cmdOpts)
	return s
}

func (s *Session) ID() string { return s.id }

// Commands returns the dispatcher bound to this session's transport.
func (s *Session) Commands() *command.Dispatcher { return s.dispatcher }

// Start connects the transport and starts applying its events. A session can only be started once.
func (s *Session) Start(ctx context.Context) error {
	err := ErrSessionStarted
	s.startOnce.Do(func() {
		if err = s.transport.Connect(ctx); err != nil {
			err = errors.Wrap(err, "connecting transport")
			close(s.done)
			return
		}
		go s.run()
		s.log.Info("session started", map[string]interface{}{"session": s.id, "teacher": s.teacherName})
	})
	return err
}

// Stop closes the transport, waits for pending events to be applied and cancels the local lock timer.
func (s *Session) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.startOnce.Do(func() { close(s.done) }) // never started
		s.dispatcher.Close()
		if cErr := s.transport.Close(); cErr != nil {
			err = errors.Wrap(cErr, "closing transport")
		}
		<-s.done
		s.setState(StateClosed)
		s.notify()
		s.log.Info("session stopped", map[string]interface{}{"session": s.id})
	})
	return err
}

func (s *Session) run() {
	defer close(s.done)
	for raw := range s.transport.Events() {
		s.apply(raw)
	}
}

func (s *Session) apply(raw RawEvent) {
	ev, err := DecodeEvent(raw)
	if err != nil {
		s.metrics.IncCounter(core.MetricEventsDropped, raw.Name)
		if errors.Cause(err) == ErrUnknownEvent {
			s.log.Debug("unhandled event", map[string]interface{}{"event": raw.Name})
		} else {
			s.log.Warn("dropping malformed event", err)
		}
		return
	}
	ev.Apply(s)
	s.metrics.IncCounter(core.MetricEventsApplied, raw.Name)
	s.notify()
}

// Handler

// HandleConnected registers the teacher before reporting the session connected,
// so nothing dispatched by a WaitConnected caller can overtake register_teacher.
func (s *Session) HandleConnected(Connected) {
	if err := s.dispatcher.Register(s.teacherName); err != nil {
		s.log.Warn("registering teacher", err)
	}
	s.setState(StateConnected)
	s.metrics.SetGauge(core.MetricRelayConnected, 1)
	s.log.Info("connected to relay")
}

func (s *Session) HandleDisconnected(e Disconnected) {
	s.setState(StateDisconnected)
	s.metrics.SetGauge(core.MetricRelayConnected, 0)
	s.log.Warn("disconnected from relay", map[string]interface{}{"reason": e.Reason})
}

func (s *Session) HandleReconnectFailed(e ReconnectFailed) {
	s.setState(StateFailed)
	s.metrics.SetGauge(core.MetricRelayConnected, 0)
	s.log.Error("giving up on relay", ErrReconnectFailed, map[string]interface{}{"attempts": e.Attempts})
}

func (s *Session) HandleStudentList(e StudentList) {
	s.roster.Replace(e.Students)
	s.metrics.SetGauge(core.MetricStudentsOnline, float64(s.roster.OnlineCount()))
	s.log.Debug("student list received", map[string]interface{}{"students": len(e.Students)})
}

func (s *Session) HandleStudentConnected(e StudentConnected) {
	s.roster.Connect(e.UserID, e.Username)
	s.metrics.SetGauge(core.MetricStudentsOnline, float64(s.roster.OnlineCount()))
	s.log.Debug("student connected", map[string]interface{}{"user_id": e.UserID, "username": e.Username})
}

func (s *Session) HandleStudentDisconnected(e StudentDisconnected) {
	if _, ok := s.roster.Disconnect(e.UserID); !ok {
		return
	}
	s.metrics.SetGauge(core.MetricStudentsOnline, float64(s.roster.OnlineCount()))
	s.log.Debug("student disconnected", map[string]interface{}{"user_id": e.UserID})
}

func (s *Session) HandleScreenData(e ScreenData) {
	sample := e.Sample
	sample.ReceivedAt = s.now().UTC()
	s.telemetry.Upsert(e.UserID, sample)
	s.metrics.SetGauge(core.MetricTelemetrySamples, float64(s.telemetry.Len()))
}

func (s *Session) HandlePollResult(e PollResult) {
	s.pollsMu.Lock()
	defer s.pollsMu.Unlock()
	tally, ok := s.polls[e.Answer.PollID]
	if !ok {
		tally = &PollTally{PollID: e.Answer.PollID, Answers: make(map[string]int)}
		s.polls[e.Answer.PollID] = tally
	}
	tally.Answers[e.Answer.Answer]++
	tally.Total++
}

// State & observables

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Session) notify() {
	s.stateMu.Lock()
	close(s.updates)
	s.updates = make(chan struct{})
	s.stateMu.Unlock()
}

func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Connected reports connectivity as of the last applied event.
func (s *Session) Connected() bool {
	return s.State() == StateConnected
}

// Updates returns a channel that is closed after the next applied event.
// Grab it before reading state so no change is missed.
func (s *Session) Updates() <-chan struct{} {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.updates
}

// WaitConnected blocks until the session is connected, cannot connect anymore, or ctx is done.
func (s *Session) WaitConnected(ctx context.Context) error {
	for {
		updates := s.Updates()
		switch s.State() {
		case StateConnected:
			return nil
		case StateFailed:
			return ErrReconnectFailed
		case StateClosed:
			return ErrSessionClosed
		}
		select {
		case <-updates:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for relay connection")
		}
	}
}

func (s *Session) Students() map[string]Student { return s.roster.Snapshot() }

func (s *Session) StudentList() []Student { return s.roster.List() }

func (s *Session) Student(id string) (Student, bool) { return s.roster.Get(id) }

func (s *Session) OnlineCount() int { return s.roster.OnlineCount() }

func (s *Session) Screens() map[string]ScreenSample { return s.telemetry.Snapshot() }

func (s *Session) Screen(id string) (ScreenSample, bool) { return s.telemetry.Get(id) }

// PollResults returns the tallies sorted by poll id.
func (s *Session) PollResults() []PollTally {
	s.pollsMu.RLock()
	defer s.pollsMu.RUnlock()
	tallies := make([]PollTally, 0, len(s.polls))
	for _, t := range s.polls {
		answers := make(map[string]int, len(t.Answers))
		for a, n := range t.Answers {
			answers[a] = n
		}
		tallies = append(tallies, PollTally{PollID: t.PollID, Answers: answers, Total: t.Total})
	}
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].PollID < tallies[j].PollID })
	return tallies
}
