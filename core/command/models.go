package command

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Outbound event names.
const (
	EventRegisterTeacher = "register_teacher"
	EventSendMessage     = "send_message"
	EventLockScreens     = "lock_screens"
	EventUnlockScreens   = "unlock_screens"
	EventCreatePoll      = "create_poll"
)

// Message types understood by the student agents.
const (
	MessageNormal  = "normal"
	MessageWarning = "warning"
	MessageUrgent  = "urgent"
)

const (
	scopeAll       = "all"
	durationManual = "manual"
)

// Command is the closed set of outbound commands.
type Command interface {
	EventName() string
	command()
}

type RegisterTeacher struct {
	Name string `json:"name"`
}

type SendMessage struct {
	Target  string `json:"target" validate:"notblank"`
	Message string `json:"message" validate:"notblank"`
	Type    string `json:"type"`
}

type LockScreens struct {
	Students Scope    `json:"students"`
	Duration Duration `json:"duration"`
	Message  string   `json:"message"`
}

type UnlockScreens struct {
	Students Scope `json:"students"`
}

type CreatePoll struct {
	Question string   `json:"question" validate:"notblank"`
	Options  []string `json:"options" validate:"min=2,dive,notblank"`
}

func (RegisterTeacher) EventName() string { return EventRegisterTeacher }
func (SendMessage) EventName() string     { return EventSendMessage }
func (LockScreens) EventName() string     { return EventLockScreens }
func (UnlockScreens) EventName() string   { return EventUnlockScreens }
func (CreatePoll) EventName() string      { return EventCreatePoll }

func (RegisterTeacher) command() {}
func (SendMessage) command()     {}
func (LockScreens) command()     {}
func (UnlockScreens) command()   {}
func (CreatePoll) command()      {}

// Scope selects the targets of a command: every student, or an explicit set of ids.
// The relay resolves it; the zero value means every student.
type Scope struct {
	explicit bool
	ids      []string
}

func AllStudents() Scope {
	return Scope{}
}

func Students(ids ...string) Scope {
	cp := make([]string, len(ids))
	copy(cp, ids)
	return Scope{explicit: true, ids: cp}
}

func (s Scope) All() bool { return !s.explicit }

func (s Scope) IDs() []string {
	cp := make([]string, len(s.ids))
	copy(cp, s.ids)
	return cp
}

func (s Scope) String() string {
	if s.All() {
		return scopeAll
	}
	return strconv.Itoa(len(s.ids)) + " students"
}

func (s Scope) MarshalJSON() ([]byte, error) {
	if s.All() {
		return json.Marshal(scopeAll)
	}
	return json.Marshal(s.ids)
}

func (s *Scope) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = AllStudents()
		return nil
	}
	if b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str != scopeAll {
			return errors.Errorf("invalid scope %q", str)
		}
		*s = AllStudents()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return errors.Wrap(err, "invalid scope")
	}
	*s = Students(ids...)
	return nil
}

// Duration is a lock duration: a whole number of seconds, or "manual" (until unlocked).
type Duration struct {
	seconds int
	manual  bool
}

func Manual() Duration { return Duration{manual: true} }

func Seconds(n int) Duration { return Duration{seconds: n} }

// For rounds `d` down to whole seconds.
func For(d time.Duration) Duration { return Seconds(int(d / time.Second)) }

// ParseDuration accepts "manual", a number of seconds, or a Go duration string ("3m").
func ParseDuration(s string) (Duration, error) {
	if s == durationManual {
		return Manual(), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Seconds(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Duration{}, errors.Errorf("invalid duration %q", s)
	}
	return For(d), nil
}

func (d Duration) IsManual() bool { return d.manual }

func (d Duration) Duration() time.Duration {
	return time.Duration(d.seconds) * time.Second
}

func (d Duration) String() string {
	if d.manual {
		return durationManual
	}
	return d.Duration().String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.manual {
		return json.Marshal(durationManual)
	}
	return json.Marshal(d.seconds)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		parsed, err := ParseDuration(str)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "invalid duration")
	}
	*d = Seconds(n)
	return nil
}
