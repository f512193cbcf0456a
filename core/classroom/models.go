package classroom

import (
	"sort"
	"time"
)

// Status
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

func validStatus(s string) bool {
	return s == StatusOnline || s == StatusOffline
}

type Student struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

func (s Student) IsOnline() bool {
	return s.Status == StatusOnline
}

// ScreenSample is the latest telemetry received for one student.
// Timestamp is the producer's timestamp, kept for display only.
type ScreenSample struct {
	Image        string    `json:"image,omitempty"`
	ActiveWindow string    `json:"active_window,omitempty"`
	ActiveApp    string    `json:"active_app,omitempty"`
	Timestamp    string    `json:"timestamp,omitempty"`
	ReceivedAt   time.Time `json:"received_at"` // local clock, UTC
}

func (s ScreenSample) HasImage() bool {
	return s.Image != ""
}

// Same reports whether both samples carry the same payload, ignoring the local receipt time.
func (s ScreenSample) Same(o ScreenSample) bool {
	return s.Image == o.Image &&
		s.ActiveWindow == o.ActiveWindow &&
		s.ActiveApp == o.ActiveApp &&
		s.Timestamp == o.Timestamp
}

// PollAnswer is one student answer relayed back for a poll.
type PollAnswer struct {
	PollID    string `json:"poll_id"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp,omitempty"`
}

// PollTally groups the answers received for one poll.
type PollTally struct {
	PollID  string         `json:"poll_id"`
	Answers map[string]int `json:"answers"`
	Total   int            `json:"total"`
}

// SortStudents orders students by username, then id, for stable listings.
func SortStudents(students []Student) {
	sort.Slice(students, func(i, j int) bool {
		if students[i].Username != students[j].Username {
			return students[i].Username < students[j].Username
		}
		return students[i].ID < students[j].ID
	})
}
