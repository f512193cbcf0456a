package classroom

import "sync"

// Roster is the local view of which students exist and whether they are online.
// Writes come from the single session loop; reads may come from anywhere and always see
// the state as of the last applied event.
type Roster struct {
	mu       sync.RWMutex
	students map[string]Student
}

func NewRoster() *Roster {
	return &Roster{students: make(map[string]Student)}
}

// Replace drops the current mapping and installs the snapshot (full replace, not merge).
// Duplicate ids in the snapshot resolve to the last entry.
func (r *Roster) Replace(students []Student) {
	m := make(map[string]Student, len(students))
	for _, s := range students {
		m[s.ID] = s
	}
	r.mu.Lock()
	r.students = m
	r.mu.Unlock()
}

// Connect inserts or updates a student and forces it online.
// An empty username keeps the one already known.
func (r *Roster) Connect(id, username string) Student {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		s = Student{ID: id}
	}
	if username != "" || !ok {
		s.Username = username
	}
	s.Status = StatusOnline
	r.students[id] = s
	return s
}

// Disconnect marks a known student offline. Students are never removed by a delta.
func (r *Roster) Disconnect(id string) (Student, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return Student{}, false
	}
	s.Status = StatusOffline
	r.students[id] = s
	return s, true
}

func (r *Roster) Get(id string) (Student, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.students[id]
	return s, ok
}

// Snapshot returns a copy of the roster keyed by student id.
func (r *Roster) Snapshot() map[string]Student {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := make(map[string]Student, len(r.students))
	for id, s := range r.students {
		m[id] = s
	}
	return m
}

// List returns the students sorted by username.
func (r *Roster) List() []Student {
	r.mu.RLock()
	students := make([]Student, 0, len(r.students))
	for _, s := range r.students {
		students = append(students, s)
	}
	r.mu.RUnlock()
	SortStudents(students)
	return students
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.students)
}

func (r *Roster) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int
	for _, s := range r.students {
		if s.IsOnline() {
			n++
		}
	}
	return n
}
