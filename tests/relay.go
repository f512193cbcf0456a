package testutil

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RelayEvent is an event received by the fake relay.
type RelayEvent struct {
	Name    string
	Payload json.RawMessage
}

type RelayOptions struct {
	NoWebsocket  bool          // reject websocket upgrades, forcing the polling fallback
	Refuse       string        // answer namespace connections with a connect error
	PingInterval time.Duration // defaults to 200ms
}

// Relay is an in-process Engine.IO v4 / Socket.IO v5 server speaking just enough of the protocol
// for the relay client: websocket and long-polling transports, events both ways, pings.
type Relay struct {
	t        *testing.T
	opts     RelayOptions
	srv      *httptest.Server
	upgrader websocket.Upgrader
	received chan RelayEvent

	mu       sync.Mutex
	sessions map[string]*relaySession
	connects int
}

type relaySession struct {
	sid       string
	polling   bool
	out       chan string
	done      chan struct{}
	once      sync.Once
	ws        *websocket.Conn
	connected bool
}

func (s *relaySession) kill() {
	s.once.Do(func() {
		close(s.done)
		if s.ws != nil {
			_ = s.ws.Close()
		}
	})
}

func NewRelay(t *testing.T, opts ...RelayOptions) *Relay {
	r := &Relay{
		t:        t,
		received: make(chan RelayEvent, 64),
		sessions: make(map[string]*relaySession),
	}
	if len(opts) > 0 {
		r.opts = opts[0]
	}
	if r.opts.PingInterval <= 0 {
		r.opts.PingInterval = 200 * time.Millisecond
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serveHTTP))
	t.Cleanup(r.Close)
	return r
}

func (r *Relay) URL() string { return r.srv.URL }

func (r *Relay) Close() {
	r.DropAll()
	r.srv.Close()
}

// Connects counts the namespace connections accepted so far.
func (r *Relay) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

// Clients counts the currently connected clients.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, s := range r.sessions {
		if s.connected {
			n++
		}
	}
	return n
}

// Send emits an event to every connected client.
func (r *Relay) Send(name string, payload interface{}) {
	args := []interface{}{name}
	if payload != nil {
		args = append(args, payload)
	}
	b, err := json.Marshal(args)
	if err != nil {
		r.t.Fatalf("Relay.Send(): %v", err)
	}
	r.broadcast("42" + string(b))
}

// Disconnect kicks every client out of the namespace, the way the server side of `disconnect()` does.
func (r *Relay) Disconnect() {
	r.broadcast("41")
}

// DropAll kills every connection without a goodbye.
func (r *Relay) DropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, s := range r.sessions {
		s.kill()
		delete(r.sessions, sid)
	}
}

// Received returns the next event sent by a client.
func (r *Relay) Received(t *testing.T, timeout time.Duration) RelayEvent {
	t.Helper()
	select {
	case ev := <-r.received:
		return ev
	case <-time.After(timeout):
		t.Fatalf("Relay.Received(): nothing received after %v", timeout)
		return RelayEvent{}
	}
}

// WaitClients blocks until `n` clients are connected.
func (r *Relay) WaitClients(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Clients() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Relay.WaitClients(): %d clients connected, want %d", r.Clients(), n)
}

func (r *Relay) broadcast(pkt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if !s.connected {
			continue
		}
		select {
		case s.out <- pkt:
		case <-s.done:
		}
	}
}

func (r *Relay) newSession(polling bool) *relaySession {
	s := &relaySession{
		sid:     uuid.New().String(),
		polling: polling,
		out:     make(chan string, 64),
		done:    make(chan struct{}),
	}
	r.mu.Lock()
	r.sessions[s.sid] = s
	r.mu.Unlock()
	return s
}

func (r *Relay) session(sid string) (*relaySession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *Relay) remove(s *relaySession) {
	s.kill()
	r.mu.Lock()
	delete(r.sessions, s.sid)
	r.mu.Unlock()
}

func (r *Relay) openPacket(sid string) string {
	ms := int(r.opts.PingInterval / time.Millisecond)
	return fmt.Sprintf(`0{"sid":%q,"upgrades":[],"pingInterval":%d,"pingTimeout":%d,"maxPayload":1000000}`, sid, ms, ms)
}

// handle processes one packet sent by the client.
func (r *Relay) handle(s *relaySession, pkt string) {
	switch {
	case pkt == "40" || strings.HasPrefix(pkt, "40{"):
		if r.opts.Refuse != "" {
			s.out <- fmt.Sprintf(`44{"message":%q}`, r.opts.Refuse)
			return
		}
		r.mu.Lock()
		s.connected = true
		r.connects++
		r.mu.Unlock()
		s.out <- fmt.Sprintf(`40{"sid":%q}`, s.sid)
	case pkt == "41" || pkt == "1":
		r.remove(s)
	case strings.HasPrefix(pkt, "42"):
		var args []json.RawMessage
		if err := json.Unmarshal([]byte(pkt[2:]), &args); err != nil || len(args) == 0 {
			return
		}
		var ev RelayEvent
		if err := json.Unmarshal(args[0], &ev.Name); err != nil {
			return
		}
		if len(args) > 1 {
			ev.Payload = args[1]
		}
		r.received <- ev
	}
}

func (r *Relay) serveHTTP(w http.ResponseWriter, req *http.Request) {
	if !strings.HasPrefix(req.URL.Path, "/socket.io") || req.URL.Query().Get("EIO") != "4" {
		http.NotFound(w, req)
		return
	}
	switch req.URL.Query().Get("transport") {
	case "websocket":
		if r.opts.NoWebsocket {
			http.Error(w, "websocket disabled", http.StatusBadRequest)
			return
		}
		r.serveWebsocket(w, req)
	case "polling":
		r.servePolling(w, req)
	default:
		http.Error(w, "unknown transport", http.StatusBadRequest)
	}
}

func (r *Relay) serveWebsocket(w http.ResponseWriter, req *http.Request) {
	ws, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	s := r.newSession(false)
	s.ws = ws
	defer r.remove(s)

	// writer
	go func() {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(r.openPacket(s.sid)))
		ping := time.NewTicker(r.opts.PingInterval / 2)
		defer ping.Stop()
		for {
			var pkt string
			select {
			case pkt = <-s.out:
			case <-ping.C:
				pkt = "2"
			case <-s.done:
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(pkt)); err != nil {
				return
			}
		}
	}()

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		r.handle(s, string(msg))
	}
}

func (r *Relay) servePolling(w http.ResponseWriter, req *http.Request) {
	sid := req.URL.Query().Get("sid")
	if sid == "" {
		if req.Method != http.MethodGet {
			http.Error(w, "missing sid", http.StatusBadRequest)
			return
		}
		s := r.newSession(true)
		_, _ = w.Write([]byte(r.openPacket(s.sid)))
		return
	}

	s, ok := r.session(sid)
	if !ok {
		http.Error(w, `{"code":1,"message":"Session ID unknown"}`, http.StatusBadRequest)
		return
	}

	switch req.Method {
	case http.MethodPost:
		body, _ := ioutil.ReadAll(req.Body)
		for _, pkt := range strings.Split(string(body), "\x1e") {
			r.handle(s, pkt)
		}
		_, _ = w.Write([]byte("ok"))

	case http.MethodGet:
		var pkts []string
		select {
		case pkt := <-s.out:
			pkts = append(pkts, pkt)
		case <-time.After(r.opts.PingInterval / 2):
			pkts = append(pkts, "2")
		case <-s.done:
			http.Error(w, "session closed", http.StatusBadRequest)
			return
		case <-req.Context().Done():
			return
		}
		for more := true; more; {
			select {
			case pkt := <-s.out:
				pkts = append(pkts, pkt)
			default:
				more = false
			}
		}
		_, _ = w.Write([]byte(strings.Join(pkts, "\x1e")))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
