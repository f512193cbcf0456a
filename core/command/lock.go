package command

import "time"

// LockMode is the local, optimistic projection of the screen lock.
// Student devices are the source of truth; nothing confirms these transitions.
type LockMode int

const (
	Unlocked LockMode = iota
	LockedTimed
	LockedManual
)

func (m LockMode) String() string {
	switch m {
	case LockedTimed:
		return "timed"
	case LockedManual:
		return "manual"
	default:
		return "unlocked"
	}
}

func (m LockMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

type LockState struct {
	Active    bool       `json:"active"`
	Mode      LockMode   `json:"mode"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// lockMachine holds the {Unlocked, LockedTimed(expiry), LockedManual} state machine.
// Every lock starts a new generation; a timer fire only applies to the generation that armed it.
type lockMachine struct {
	mode      LockMode
	expiresAt time.Time
	gen       uint64
}

func (m *lockMachine) lock(d Duration, now time.Time) uint64 {
	m.gen++
	if d.IsManual() {
		m.mode = LockedManual
		m.expiresAt = time.Time{}
	} else {
		m.mode = LockedTimed
		m.expiresAt = now.Add(d.Duration())
	}
	return m.gen
}

func (m *lockMachine) unlock() {
	m.gen++
	m.mode = Unlocked
	m.expiresAt = time.Time{}
}

// expire is the timer-fired transition, only valid from LockedTimed of the same generation.
func (m *lockMachine) expire(gen uint64) bool {
	if m.mode != LockedTimed || m.gen != gen {
		return false
	}
	m.mode = Unlocked
	m.expiresAt = time.Time{}
	return true
}

func (m *lockMachine) state() LockState {
	st := LockState{Active: m.mode != Unlocked, Mode: m.mode}
	if m.mode == LockedTimed {
		exp := m.expiresAt
		st.ExpiresAt = &exp
	}
	return st
}
