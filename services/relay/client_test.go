package relay

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/classguard/core/classroom"
	"github.com/trezcool/classguard/tests"
)

const waitTimeout = 3 * time.Second

func newClient(t *testing.T, url string, opts ...func(*Options)) *Client {
	o := Options{
		URL:               url,
		ReconnectAttempts: 3,
		ReconnectDelay:    20 * time.Millisecond,
		DialTimeout:       time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := NewClient(o)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// next returns the next event, skipping none.
func next(t *testing.T, c *Client) classroom.RawEvent {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatalf("events channel closed")
		}
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("no event after %v", waitTimeout)
		return classroom.RawEvent{}
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "ok", opts: Options{URL: "http://localhost:5000"}},
		{name: "missing url", opts: Options{}, wantErr: true},
		{name: "no host", opts: Options{URL: "localhost"}, wantErr: true},
		{name: "bad transport", opts: Options{URL: "http://localhost:5000", Transports: []string{"carrier-pigeon"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil {
				assert.Equal(t, "/socket.io/", c.endpoint.Path)
				assert.Equal(t, DefaultReconnectAttempts, c.opts.ReconnectAttempts)
			}
		})
	}
}

func testRoundTrip(t *testing.T, relayOpts testutil.RelayOptions, transports ...string) {
	relay := testutil.NewRelay(t, relayOpts)
	c := newClient(t, relay.URL(), func(o *Options) { o.Transports = transports })

	assert.False(t, c.Connected())
	assert.Equal(t, ErrNotConnected, c.Emit("register_teacher", map[string]string{"name": "Ms T"}))

	assert.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, ErrAlreadyStarted, c.Connect(context.Background()))

	ev := next(t, c)
	assert.Equal(t, classroom.EventConnect, ev.Name)
	assert.True(t, c.Connected())

	// outbound
	assert.NoError(t, c.Emit("register_teacher", map[string]string{"name": "Ms T"}))
	got := relay.Received(t, waitTimeout)
	assert.Equal(t, "register_teacher", got.Name)
	assert.JSONEq(t, `{"name":"Ms T"}`, string(got.Payload))

	// inbound, in order
	relay.Send("student_list", map[string]interface{}{"students": []interface{}{}})
	relay.Send("student_connected", map[string]string{"user_id": "s1", "username": "amy"})
	assert.Equal(t, "student_list", next(t, c).Name)
	ev = next(t, c)
	assert.Equal(t, "student_connected", ev.Name)
	assert.JSONEq(t, `{"user_id":"s1","username":"amy"}`, string(ev.Payload))

	// reserved names are not forwarded
	relay.Send("disconnect", nil)
	relay.Send("screen_data", map[string]string{"user_id": "s1"})
	assert.Equal(t, "screen_data", next(t, c).Name)

	assert.NoError(t, c.Close())
	_, ok := <-c.Events()
	for ok {
		_, ok = <-c.Events()
	}
	assert.False(t, c.Connected())
	assert.Equal(t, ErrClosed, c.Connect(context.Background()))
}

func TestClient_Websocket(t *testing.T) {
	testRoundTrip(t, testutil.RelayOptions{}, transportWebsocket)
}

func TestClient_Polling(t *testing.T) {
	testRoundTrip(t, testutil.RelayOptions{}, transportPolling)
}

func TestClient_FallsBackToPolling(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.RelayOptions{NoWebsocket: true})
	c := newClient(t, relay.URL())
	assert.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, classroom.EventConnect, next(t, c).Name)

	c.mu.Lock()
	tr := c.cur.transport()
	c.mu.Unlock()
	assert.Equal(t, transportPolling, tr)
}

func TestClient_LargeFrames(t *testing.T) {
	// bigger than the maxPayload the relay advertises
	image := strings.Repeat("A", 1200*1000)

	for _, tr := range []string{transportWebsocket, transportPolling} {
		t.Run(tr, func(t *testing.T) {
			relay := testutil.NewRelay(t)
			c := newClient(t, relay.URL(), func(o *Options) { o.Transports = []string{tr} })
			assert.NoError(t, c.Connect(context.Background()))
			assert.Equal(t, classroom.EventConnect, next(t, c).Name)

			relay.Send("screen_data", map[string]string{"user_id": "s1", "image": image})
			ev := next(t, c)
			if assert.Equal(t, "screen_data", ev.Name) {
				var payload struct{ Image string }
				assert.NoError(t, json.Unmarshal(ev.Payload, &payload))
				assert.Equal(t, len(image), len(payload.Image))
			}
			assert.True(t, c.Connected())
			assert.Equal(t, 1, relay.Connects())
		})
	}
}

func TestClient_PingKeepsConnectionAlive(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.RelayOptions{PingInterval: 50 * time.Millisecond})
	c := newClient(t, relay.URL())
	assert.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, classroom.EventConnect, next(t, c).Name)

	time.Sleep(300 * time.Millisecond) // several ping periods
	assert.True(t, c.Connected())
	relay.Send("student_list", map[string]interface{}{"students": []interface{}{}})
	assert.Equal(t, "student_list", next(t, c).Name)
}

func TestClient_Reconnects(t *testing.T) {
	relay := testutil.NewRelay(t)
	c := newClient(t, relay.URL())
	assert.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, classroom.EventConnect, next(t, c).Name)

	relay.DropAll()
	ev := next(t, c)
	assert.Equal(t, classroom.EventDisconnect, ev.Name)
	var payload struct{ Reason string }
	assert.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, ReasonTransportError, payload.Reason)

	assert.Equal(t, classroom.EventConnect, next(t, c).Name)
	assert.Equal(t, 2, relay.Connects())
}

func TestClient_ServerDisconnectIsFinal(t *testing.T) {
	relay := testutil.NewRelay(t)
	c := newClient(t, relay.URL())
	assert.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, classroom.EventConnect, next(t, c).Name)

	relay.Disconnect()
	ev := next(t, c)
	assert.Equal(t, classroom.EventDisconnect, ev.Name)
	assert.JSONEq(t, `{"reason":"io server disconnect"}`, string(ev.Payload))

	select {
	case ev := <-c.Events():
		t.Errorf("unexpected event %s after server disconnect", ev.Name)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, relay.Connects())
}

func TestClient_GivesUp(t *testing.T) {
	// a port nobody listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() failed: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := newClient(t, "http://"+addr, func(o *Options) { o.ReconnectAttempts = 2 })
	assert.NoError(t, c.Connect(context.Background()))

	ev := next(t, c)
	assert.Equal(t, classroom.EventReconnectFailed, ev.Name)
	assert.JSONEq(t, `{"attempts":2}`, string(ev.Payload))

	// the budget can be started over
	assert.Eventually(t, func() bool { return c.Connect(context.Background()) == nil }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, classroom.EventReconnectFailed, next(t, c).Name)
}

func TestClient_ConnectRefused(t *testing.T) {
	relay := testutil.NewRelay(t, testutil.RelayOptions{Refuse: "Unauthorized"})
	c := newClient(t, relay.URL(), func(o *Options) { o.ReconnectAttempts = -1 })
	assert.NoError(t, c.Connect(context.Background()))

	ev := next(t, c)
	assert.Equal(t, classroom.EventReconnectFailed, ev.Name)
	assert.JSONEq(t, `{"attempts":0}`, string(ev.Payload))
	assert.Equal(t, 0, relay.Connects())
}
