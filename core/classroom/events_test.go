package classroom

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func raw(name, payload string) RawEvent {
	ev := RawEvent{Name: name}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
	}
	return ev
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name          string
		raw           RawEvent
		want          Event
		wantMalformed bool
		wantUnknown   bool
	}{
		{name: "connect", raw: raw(EventConnect, ""), want: Connected{}},
		{name: "disconnect", raw: raw(EventDisconnect, `{"reason":"transport close"}`), want: Disconnected{Reason: "transport close"}},
		{name: "disconnect: no reason", raw: raw(EventDisconnect, ""), want: Disconnected{}},
		{name: "reconnect failed", raw: raw(EventReconnectFailed, `{"attempts":10}`), want: ReconnectFailed{Attempts: 10}},
		{
			name: "student list",
			raw:  raw(EventStudentList, `{"students":[{"id":"s1","username":"amy","status":"online"},{"id":2,"username":"bob"}]}`),
			want: StudentList{Students: []Student{
				{ID: "s1", Username: "amy", Status: StatusOnline},
				{ID: "2", Username: "bob", Status: StatusOffline},
			}},
		},
		{name: "student list: empty", raw: raw(EventStudentList, `{"students":[]}`), want: StudentList{Students: []Student{}}},
		{name: "student list: missing students", raw: raw(EventStudentList, `{}`), wantMalformed: true},
		{name: "student list: missing id", raw: raw(EventStudentList, `{"students":[{"username":"amy"}]}`), wantMalformed: true},
		{
			name: "student list: unknown status",
			raw:  raw(EventStudentList, `{"students":[{"id":1,"status":"online"},{"id":2,"status":"away"}]}`),
			want: StudentList{Students: []Student{
				{ID: "1", Status: StatusOnline},
				{ID: "2", Status: StatusOffline},
			}},
		},
		{name: "student list: not an object", raw: raw(EventStudentList, `[1,2]`), wantMalformed: true},
		{name: "student connected", raw: raw(EventStudentConnected, `{"user_id":"s1","username":"amy"}`), want: StudentConnected{UserID: "s1", Username: "amy"}},
		{name: "student connected: numeric id", raw: raw(EventStudentConnected, `{"user_id":42}`), want: StudentConnected{UserID: "42"}},
		{name: "student connected: no payload", raw: raw(EventStudentConnected, ""), wantMalformed: true},
		{name: "student connected: no id", raw: raw(EventStudentConnected, `{"username":"amy"}`), wantMalformed: true},
		{name: "student disconnected", raw: raw(EventStudentDisconnected, `{"user_id":"s1"}`), want: StudentDisconnected{UserID: "s1"}},
		{
			name: "screen data",
			raw:  raw(EventScreenData, `{"user_id":"s1","image":"aGk=","active_window":"main.py","active_app":"Code","timestamp":"2021-03-01T09:00:00Z"}`),
			want: ScreenData{UserID: "s1", Sample: ScreenSample{Image: "aGk=", ActiveWindow: "main.py", ActiveApp: "Code", Timestamp: "2021-03-01T09:00:00Z"}},
		},
		{name: "screen data: numeric timestamp", raw: raw(EventScreenData, `{"user_id":"s1","timestamp":1614589200}`), want: ScreenData{UserID: "s1", Sample: ScreenSample{Timestamp: "1614589200"}}},
		{name: "screen data: no user", raw: raw(EventScreenData, `{"image":"aGk="}`), wantMalformed: true},
		{name: "poll result", raw: raw(EventPollResults, `{"poll_id":"p1","answer":"B"}`), want: PollResult{Answer: PollAnswer{PollID: "p1", Answer: "B"}}},
		{name: "poll result: no poll", raw: raw(EventPollResults, `{"answer":"B"}`), wantMalformed: true},
		{name: "unknown", raw: raw("something_else", `{}`), wantUnknown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent(tt.raw)
			switch {
			case tt.wantMalformed:
				_, ok := err.(*MalformedEventError)
				assert.True(t, ok, "DecodeEvent() error = %v, want *MalformedEventError", err)
			case tt.wantUnknown:
				assert.Equal(t, ErrUnknownEvent, errors.Cause(err))
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

type recordingHandler struct {
	calls []string
}

func (h *recordingHandler) HandleConnected(Connected)                     { h.calls = append(h.calls, "connected") }
func (h *recordingHandler) HandleDisconnected(Disconnected)               { h.calls = append(h.calls, "disconnected") }
func (h *recordingHandler) HandleReconnectFailed(ReconnectFailed)         { h.calls = append(h.calls, "reconnect_failed") }
func (h *recordingHandler) HandleStudentList(StudentList)                 { h.calls = append(h.calls, "student_list") }
func (h *recordingHandler) HandleStudentConnected(StudentConnected)       { h.calls = append(h.calls, "student_connected") }
func (h *recordingHandler) HandleStudentDisconnected(StudentDisconnected) { h.calls = append(h.calls, "student_disconnected") }
func (h *recordingHandler) HandleScreenData(ScreenData)                   { h.calls = append(h.calls, "screen_data") }
func (h *recordingHandler) HandlePollResult(PollResult)                   { h.calls = append(h.calls, "poll_result") }

func TestEvent_Apply(t *testing.T) {
	h := &recordingHandler{}
	events := []Event{
		Connected{}, StudentList{}, StudentConnected{}, ScreenData{},
		StudentDisconnected{}, PollResult{}, Disconnected{}, ReconnectFailed{},
	}
	for _, ev := range events {
		ev.Apply(h)
	}
	assert.Equal(t, []string{
		"connected", "student_list", "student_connected", "screen_data",
		"student_disconnected", "poll_result", "disconnected", "reconnect_failed",
	}, h.calls)
}
