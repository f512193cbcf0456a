package command

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/classguard/core"
)

type emitted struct {
	event   string
	payload interface{}
}

type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []emitted
}

func (e *fakeEmitter) Emit(event string, payload interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.sent = append(e.sent, emitted{event: event, payload: payload})
	return nil
}

func (e *fakeEmitter) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

func (e *fakeEmitter) last(t *testing.T) emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sent) == 0 {
		t.Fatalf("nothing emitted")
	}
	return e.sent[len(e.sent)-1]
}

// fakeTimer records scheduled functions so tests can fire them at will.
type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Stopper {
	tmr := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, tmr)
	return tmr
}

// fire runs the n-th scheduled function, even if it was stopped, like a timer racing its Stop.
func (c *fakeClock) fire(n int) {
	c.timers[n].f()
}

func setup(connected bool) (*Dispatcher, *fakeEmitter, *fakeClock) {
	em := &fakeEmitter{connected: connected}
	clock := &fakeClock{now: time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher(em, Options{Now: clock.Now, AfterFunc: clock.AfterFunc})
	return d, em, clock
}

func TestDispatcher_Lock(t *testing.T) {
	t.Run("timed lock expires locally", func(t *testing.T) {
		d, em, clock := setup(true)

		err := d.Lock(AllStudents(), Seconds(300), "Eyes up")
		assert.NoError(t, err)

		sent := em.last(t)
		assert.Equal(t, EventLockScreens, sent.event)
		assert.Equal(t, LockScreens{Students: AllStudents(), Duration: Seconds(300), Message: "Eyes up"}, sent.payload)

		st := d.LockState()
		assert.True(t, st.Active)
		assert.Equal(t, LockedTimed, st.Mode)
		if assert.NotNil(t, st.ExpiresAt) {
			assert.Equal(t, clock.now.Add(300*time.Second), *st.ExpiresAt)
		}
		if assert.Len(t, clock.timers, 1) {
			assert.Equal(t, 300*time.Second, clock.timers[0].d)
		}

		clock.fire(0)
		assert.Equal(t, LockState{Active: false, Mode: Unlocked}, d.LockState())
		assert.Len(t, em.sent, 1, "expiry must not send unlock")
	})

	t.Run("manual lock has no timer", func(t *testing.T) {
		d, _, clock := setup(true)

		assert.NoError(t, d.Lock(Students("s1", "s2"), Manual(), ""))
		assert.Equal(t, LockState{Active: true, Mode: LockedManual}, d.LockState())
		assert.Empty(t, clock.timers)
	})

	t.Run("unlock before expiry", func(t *testing.T) {
		d, em, clock := setup(true)

		assert.NoError(t, d.Lock(AllStudents(), Seconds(60), ""))
		assert.NoError(t, d.Unlock(AllStudents()))
		assert.Equal(t, EventUnlockScreens, em.last(t).event)
		assert.True(t, clock.timers[0].stopped)

		// a timer that fires anyway must be a no-op
		clock.fire(0)
		assert.False(t, d.LockState().Active)
	})

	t.Run("relock rearms the timer", func(t *testing.T) {
		d, _, clock := setup(true)

		assert.NoError(t, d.Lock(AllStudents(), Seconds(60), ""))
		assert.NoError(t, d.Lock(AllStudents(), Manual(), ""))
		assert.True(t, clock.timers[0].stopped)

		clock.fire(0) // stale
		assert.Equal(t, LockedManual, d.LockState().Mode)

		assert.NoError(t, d.Lock(AllStudents(), Seconds(30), ""))
		assert.NoError(t, d.Lock(AllStudents(), Seconds(90), ""))
		assert.Len(t, clock.timers, 3)

		clock.fire(1) // stale
		assert.Equal(t, LockedTimed, d.LockState().Mode)
		clock.fire(2)
		assert.Equal(t, Unlocked, d.LockState().Mode)
	})

	t.Run("disconnected", func(t *testing.T) {
		d, em, clock := setup(false)

		err := d.Lock(AllStudents(), Seconds(60), "")
		assert.Equal(t, ErrNotConnected, err)
		assert.Empty(t, em.sent)
		assert.Empty(t, clock.timers)
		assert.False(t, d.LockState().Active)
	})

	t.Run("emit failure leaves state untouched", func(t *testing.T) {
		d, em, _ := setup(true)
		em.err = errors.New("broken pipe")

		err := d.Lock(AllStudents(), Manual(), "")
		assert.Error(t, err)
		assert.False(t, d.LockState().Active)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		d, em, _ := setup(true)

		err := d.Lock(Students(), Seconds(60), "")
		assert.True(t, core.IsValidationError(err))
		err = d.Lock(AllStudents(), Seconds(0), "")
		assert.True(t, core.IsValidationError(err))
		assert.Empty(t, em.sent)
	})
}

func TestDispatcher_UnlockDisconnected(t *testing.T) {
	d, em, _ := setup(true)
	assert.NoError(t, d.Lock(AllStudents(), Manual(), ""))

	em.connected = false
	assert.Equal(t, ErrNotConnected, d.Unlock(AllStudents()))
	assert.True(t, d.LockState().Active, "dropped unlock keeps the local lock")
}

func TestDispatcher_CreatePoll(t *testing.T) {
	tests := []struct {
		name        string
		question    string
		options     []string
		wantErr     bool
		wantOptions []string
	}{
		{name: "valid", question: "Q?", options: []string{"A", "B"}, wantOptions: []string{"A", "B"}},
		{name: "blank options dropped", question: " Q? ", options: []string{"A", " ", "B", ""}, wantOptions: []string{"A", "B"}},
		{name: "blank question", question: "  ", options: []string{"A", "B"}, wantErr: true},
		{name: "one option left", question: "Q?", options: []string{"A", "", "  "}, wantErr: true},
		{name: "no options", question: "Q?", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, em, _ := setup(true)
			err := d.CreatePoll(tt.question, tt.options)
			if tt.wantErr {
				assert.True(t, core.IsValidationError(err), "CreatePoll() error = %v", err)
				assert.Empty(t, em.sent)
				return
			}
			assert.NoError(t, err)
			sent := em.last(t)
			assert.Equal(t, EventCreatePoll, sent.event)
			assert.Equal(t, CreatePoll{Question: "Q?", Options: tt.wantOptions}, sent.payload)
		})
	}
}

func TestDispatcher_BroadcastMessage(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		message string
		msgType string
		want    SendMessage
		wantErr bool
	}{
		{name: "defaults", message: "Hi", want: SendMessage{Target: "all", Message: "Hi", Type: MessageNormal}},
		{name: "single student", target: "s1", message: "Focus", msgType: "Warning", want: SendMessage{Target: "s1", Message: "Focus", Type: MessageWarning}},
		{name: "blank message", message: " ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, em, _ := setup(true)
			err := d.BroadcastMessage(tt.target, tt.message, tt.msgType)
			if tt.wantErr {
				assert.True(t, core.IsValidationError(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, em.last(t).payload)
		})
	}
}

func TestDispatcher_DroppedWhileDisconnected(t *testing.T) {
	d, em, _ := setup(false)

	assert.Equal(t, ErrNotConnected, d.Register("Ms T"))
	assert.Equal(t, ErrNotConnected, d.BroadcastMessage("all", "hi", ""))
	assert.Equal(t, ErrNotConnected, d.CreatePoll("Q?", []string{"A", "B"}))

	em.connected = true
	assert.NoError(t, d.Register("Ms T"))
	assert.Len(t, em.sent, 1, "dropped commands must not be replayed")
}

func TestCommand_JSON(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{name: "register", cmd: RegisterTeacher{Name: "Teacher"}, want: `{"name":"Teacher"}`},
		{name: "lock all timed", cmd: LockScreens{Students: AllStudents(), Duration: Seconds(300), Message: "m"}, want: `{"students":"all","duration":300,"message":"m"}`},
		{name: "lock some manual", cmd: LockScreens{Students: Students("a", "b"), Duration: Manual()}, want: `{"students":["a","b"],"duration":"manual","message":""}`},
		{name: "unlock", cmd: UnlockScreens{Students: AllStudents()}, want: `{"students":"all"}`},
		{name: "poll", cmd: CreatePoll{Question: "Q?", Options: []string{"A", "B"}}, want: `{"question":"Q?","options":["A","B"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.cmd)
			assert.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestScope_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{in: `"all"`, want: AllStudents()},
		{in: `null`, want: AllStudents()},
		{in: `["s1"]`, want: Students("s1")},
		{in: `"some"`, wantErr: true},
		{in: `12`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s Scope
			err := json.Unmarshal([]byte(tt.in), &s)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, s)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    Duration
		wantErr bool
	}{
		{in: "manual", want: Manual()},
		{in: "300", want: Seconds(300)},
		{in: "5m", want: Seconds(300)},
		{in: "1500ms", want: Seconds(1)},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDuration() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

// blockingEmitter holds every Emit until release is closed.
type blockingEmitter struct {
	entered chan struct{}
	release chan struct{}
}

func (e *blockingEmitter) Emit(string, interface{}) error {
	e.entered <- struct{}{}
	<-e.release
	return nil
}

func (e *blockingEmitter) Connected() bool { return true }

func TestDispatcher_LockStateDuringSlowEmit(t *testing.T) {
	em := &blockingEmitter{entered: make(chan struct{}, 1), release: make(chan struct{})}
	clock := &fakeClock{now: time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher(em, Options{Now: clock.Now, AfterFunc: clock.AfterFunc})

	done := make(chan error, 1)
	go func() { done <- d.Lock(AllStudents(), Manual(), "") }()
	<-em.entered

	states := make(chan LockState, 1)
	go func() { states <- d.LockState() }()
	select {
	case st := <-states:
		assert.Equal(t, LockState{Active: false, Mode: Unlocked}, st)
	case <-time.After(time.Second):
		t.Fatal("LockState() blocked behind Emit")
	}

	close(em.release)
	assert.NoError(t, <-done)
	assert.Equal(t, LockState{Active: true, Mode: LockedManual}, d.LockState())
}
