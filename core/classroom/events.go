package classroom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// Inbound event names.
const (
	EventConnect             = "connect"
	EventDisconnect          = "disconnect"
	EventReconnectFailed     = "reconnect_failed"
	EventStudentList         = "student_list"
	EventStudentConnected    = "student_connected"
	EventStudentDisconnected = "student_disconnected"
	EventScreenData          = "screen_data"
	EventPollResults         = "poll_results"
)

var ErrUnknownEvent = errors.New("unknown event")

// RawEvent is a named event as delivered by the transport, payload still encoded.
type RawEvent struct {
	Name    string
	Payload json.RawMessage
}

// MalformedEventError is returned when an event payload does not have the expected shape.
type MalformedEventError struct {
	Name   string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Name, e.Reason)
}

func malformed(name, format string, args ...interface{}) error {
	return &MalformedEventError{Name: name, Reason: fmt.Sprintf(format, args...)}
}

// Event is the closed set of inbound events. Apply dispatches the event to the matching Handler method,
// so adding an event type does not compile until every Handler deals with it.
type Event interface {
	Apply(h Handler)
}

type Handler interface {
	HandleConnected(Connected)
	HandleDisconnected(Disconnected)
	HandleReconnectFailed(ReconnectFailed)
	HandleStudentList(StudentList)
	HandleStudentConnected(StudentConnected)
	HandleStudentDisconnected(StudentDisconnected)
	HandleScreenData(ScreenData)
	HandlePollResult(PollResult)
}

type (
	Connected    struct{}
	Disconnected struct {
		Reason string `json:"reason"`
	}
	ReconnectFailed struct {
		Attempts int `json:"attempts"`
	}
	StudentList struct {
		Students []Student
	}
	StudentConnected struct {
		UserID   string
		Username string
	}
	StudentDisconnected struct {
		UserID string
	}
	ScreenData struct {
		UserID string
		Sample ScreenSample
	}
	PollResult struct {
		Answer PollAnswer
	}
)

func (e Connected) Apply(h Handler)           { h.HandleConnected(e) }
func (e Disconnected) Apply(h Handler)        { h.HandleDisconnected(e) }
func (e ReconnectFailed) Apply(h Handler)     { h.HandleReconnectFailed(e) }
func (e StudentList) Apply(h Handler)         { h.HandleStudentList(e) }
func (e StudentConnected) Apply(h Handler)    { h.HandleStudentConnected(e) }
func (e StudentDisconnected) Apply(h Handler) { h.HandleStudentDisconnected(e) }
func (e ScreenData) Apply(h Handler)          { h.HandleScreenData(e) }
func (e PollResult) Apply(h Handler)          { h.HandlePollResult(e) }

// flexString accepts a JSON string or number. The relay sends numeric user ids.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Errorf("expected string or number, got %s", b)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type (
	studentPayload struct {
		ID       flexString `json:"id"`
		Username string     `json:"username"`
		Status   string     `json:"status"`
	}
	studentListPayload struct {
		Students *[]studentPayload `json:"students"`
	}
	studentConnectedPayload struct {
		UserID   flexString `json:"user_id"`
		Username string     `json:"username"`
	}
	studentDisconnectedPayload struct {
		UserID flexString `json:"user_id"`
	}
	screenDataPayload struct {
		UserID       flexString `json:"user_id"`
		Image        string     `json:"image"`
		ActiveWindow string     `json:"active_window"`
		ActiveApp    string     `json:"active_app"`
		Timestamp    flexString `json:"timestamp"`
	}
	pollResultPayload struct {
		PollID    flexString `json:"poll_id"`
		Answer    flexString `json:"answer"`
		Timestamp flexString `json:"timestamp"`
	}
)

func decodePayload(raw RawEvent, v interface{}) error {
	if len(bytes.TrimSpace(raw.Payload)) == 0 {
		return malformed(raw.Name, "missing payload")
	}
	if err := json.Unmarshal(raw.Payload, v); err != nil {
		return malformed(raw.Name, "%v", err)
	}
	return nil
}

// DecodeEvent turns a RawEvent into a typed Event.
// Unknown names yield ErrUnknownEvent; payloads of the wrong shape yield a *MalformedEventError.
func DecodeEvent(raw RawEvent) (Event, error) {
	switch raw.Name {
	case EventConnect:
		return Connected{}, nil

	case EventDisconnect:
		var e Disconnected
		if len(bytes.TrimSpace(raw.Payload)) > 0 {
			_ = json.Unmarshal(raw.Payload, &e) // the reason is informative only
		}
		return e, nil

	case EventReconnectFailed:
		var e ReconnectFailed
		if len(bytes.TrimSpace(raw.Payload)) > 0 {
			_ = json.Unmarshal(raw.Payload, &e)
		}
		return e, nil

	case EventStudentList:
		var p studentListPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.Students == nil {
			return nil, malformed(raw.Name, "missing students")
		}
		students := make([]Student, 0, len(*p.Students))
		for i, sp := range *p.Students {
			if sp.ID == "" {
				return nil, malformed(raw.Name, "students[%d]: missing id", i)
			}
			// anything but online (away, empty, ...) counts as offline
			status := sp.Status
			if !validStatus(status) {
				status = StatusOffline
			}
			students = append(students, Student{ID: string(sp.ID), Username: sp.Username, Status: status})
		}
		return StudentList{Students: students}, nil

	case EventStudentConnected:
		var p studentConnectedPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed(raw.Name, "missing user_id")
		}
		return StudentConnected{UserID: string(p.UserID), Username: p.Username}, nil

	case EventStudentDisconnected:
		var p studentDisconnectedPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed(raw.Name, "missing user_id")
		}
		return StudentDisconnected{UserID: string(p.UserID)}, nil

	case EventScreenData:
		var p screenDataPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed(raw.Name, "missing user_id")
		}
		return ScreenData{
			UserID: string(p.UserID),
			Sample: ScreenSample{
				Image:        p.Image,
				ActiveWindow: p.ActiveWindow,
				ActiveApp:    p.ActiveApp,
				Timestamp:    string(p.Timestamp),
			},
		}, nil

	case EventPollResults:
		var p pollResultPayload
		if err := decodePayload(raw, &p); err != nil {
			return nil, err
		}
		if p.PollID == "" {
			return nil, malformed(raw.Name, "missing poll_id")
		}
		return PollResult{Answer: PollAnswer{
			PollID:    string(p.PollID),
			Answer:    string(p.Answer),
			Timestamp: string(p.Timestamp),
		}}, nil

	default:
		return nil, errors.Wrap(ErrUnknownEvent, raw.Name)
	}
}
