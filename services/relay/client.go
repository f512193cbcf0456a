// Package relay is the client side of the relay's Socket.IO channel: Engine.IO v4 over a websocket,
// with an HTTP long-polling fallback, and bounded automatic reconnection.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/classroom"
)

const (
	DefaultPath              = "/socket.io/"
	DefaultReconnectAttempts = 10
	DefaultReconnectDelay    = time.Second
	DefaultDialTimeout       = 10 * time.Second

	writeWait = 10 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("relay client already started")
	ErrClosed         = errors.New("relay client closed")
	ErrNotConnected   = errors.New("not connected to the relay")

	errPingTimeout = errors.New("ping timeout")
	errConnClosed  = errors.New("connection closed")
)

// Disconnect reasons, as reported in the payload of the disconnect event.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

type Options struct {
	URL        string
	Path       string   // defaults to DefaultPath
	Transports []string // tried in order; defaults to websocket, then polling
	Header     http.Header

	// ReconnectAttempts bounds the reconnection attempts after a failure; 0 means DefaultReconnectAttempts
	// and a negative value disables reconnection.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	EventBuffer       int

	Logger     core.Logger
	Metrics    core.Metrics
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client maintains one connection to the relay and turns it into a stream of classroom.RawEvent.
// Besides the relay's own events, it emits `connect`, `disconnect` and `reconnect_failed`.
type Client struct {
	opts     Options
	endpoint *url.URL
	log      core.Logger
	metrics  core.Metrics
	events   chan classroom.RawEvent

	mu      sync.Mutex
	cur     conn
	running bool
	closed  bool
	cancel  context.CancelFunc

	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ classroom.Transport = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("relay url is required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing relay url")
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid relay url %q", opts.URL)
	}
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(opts.Path, "/")

	if len(opts.Transports) == 0 {
		opts.Transports = []string{transportWebsocket, transportPolling}
	}
	for _, tr := range opts.Transports {
		if tr != transportWebsocket && tr != transportPolling {
			return nil, errors.Errorf("unknown transport %q", tr)
		}
	}
	if opts.ReconnectAttempts == 0 {
		opts.ReconnectAttempts = DefaultReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: opts.DialTimeout}
	}

	c := &Client{
		opts:     opts,
		endpoint: u,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		events:   make(chan classroom.RawEvent, opts.EventBuffer),
	}
	if c.log == nil {
		c.log = core.NopLogger
	}
	if c.metrics == nil {
		c.metrics = core.NopMetrics
	}
	return c, nil
}

// Connect starts connecting in the background and returns right away; progress is reported through Events().
// ctx bounds the lifetime of the connection. Connect may be called again once the reconnection budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.running {
		return ErrAlreadyStarted
	}
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.supervise(sctx)
	return nil
}

// Events is closed by Close.
func (c *Client) Events() <-chan classroom.RawEvent {
	return c.events
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

// Emit sends one event. Nothing is buffered while disconnected.
func (c *Client) Emit(event string, payload interface{}) error {
	c.mu.Lock()
	cn := c.cur
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}
	pkt, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	return cn.write(pkt)
}

// Close disconnects, stops reconnecting and closes the Events channel.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		c.wg.Wait()
		close(c.events)
	})
	return nil
}

func (c *Client) supervise(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	var attempts int // reconnection attempts since the last successful connection
	for {
		cn, pending, err := c.open(ctx)
		if err == nil {
			attempts = 0
			reason := c.serve(ctx, cn, pending)
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("relay connection lost", map[string]interface{}{"reason": reason})
			c.deliver(ctx, classroom.EventDisconnect, map[string]string{"reason": reason})
			if reason == ReasonServerDisconnect {
				return // the server does not want us back
			}
		} else {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("relay connection failed", err, map[string]interface{}{"attempt": attempts})
		}

		if attempts >= c.opts.ReconnectAttempts {
			c.log.Error("giving up on relay", map[string]interface{}{"attempts": attempts, "url": c.endpoint.String()})
			c.deliver(ctx, classroom.EventReconnectFailed, map[string]int{"attempts": attempts})
			return
		}
		attempts++
		c.metrics.IncCounter(core.MetricReconnects)

		select {
		case <-time.After(c.opts.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// open dials every transport in turn and joins the default namespace on the first one that answers.
// Packets received after the namespace acknowledgment are returned so they are not lost.
func (c *Client) open(ctx context.Context) (conn, []string, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	var errs []string
	for _, tr := range c.opts.Transports {
		cn, err := c.dial(dctx, tr)
		if err == nil {
			var pending []string
			if pending, err = c.join(dctx, cn); err == nil {
				c.log.Info("connected to relay", map[string]interface{}{"transport": tr, "sid": cn.handshake().SID})
				return cn, pending, nil
			}
			_ = cn.close()
		}
		errs = append(errs, tr+": "+err.Error())
		if dctx.Err() != nil {
			break
		}
	}
	return nil, nil, errors.New(strings.Join(errs, "; "))
}

func (c *Client) dial(ctx context.Context, tr string) (conn, error) {
	if tr == transportWebsocket {
		return dialWebsocket(ctx, c.opts.Dialer, c.endpoint, c.opts.Header)
	}
	return dialPolling(ctx, c.opts.HTTPClient, c.endpoint, c.opts.Header)
}

func (c *Client) join(ctx context.Context, cn conn) ([]string, error) {
	stop, exited := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			_ = cn.close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-exited
	}()

	if err := cn.write(connectPacket()); err != nil {
		return nil, err
	}
	for {
		pkts, err := cn.read()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "joining namespace")
			}
			return nil, err
		}
		for i, pkt := range pkts {
			switch {
			case pkt == "":
			case pkt[0] == eioPing:
				if err := cn.write(string(eioPong) + pkt[1:]); err != nil {
					return nil, err
				}
			case pkt[0] == eioClose:
				return nil, errConnClosed
			case pkt[0] == eioMessage:
				p, err := decodeSocketPacket(pkt[1:])
				if err != nil {
					continue
				}
				switch p.typ {
				case sioConnect:
					return pkts[i+1:], nil
				case sioConnectError:
					return nil, errors.Errorf("connection refused: %s", connectErrorMessage(p))
				}
			}
		}
	}
}

// serve pumps packets until the connection drops and returns the disconnect reason.
func (c *Client) serve(ctx context.Context, cn conn, pending []string) string {
	c.setConn(cn)
	c.metrics.SetGauge(core.MetricRelayConnected, 1)
	c.deliver(ctx, classroom.EventConnect, nil)
	defer func() {
		c.setConn(nil)
		c.metrics.SetGauge(core.MetricRelayConnected, 0)
		_ = cn.close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = cn.write(disconnectPacket())
			_ = cn.close()
		case <-stop:
		}
	}()

	pkts := pending
	for {
		for _, pkt := range pkts {
			if reason, done := c.handle(ctx, cn, pkt); done {
				return reason
			}
		}
		var err error
		if pkts, err = cn.read(); err != nil {
			switch {
			case ctx.Err() != nil:
				return ReasonClientDisconnect
			case err == errPingTimeout:
				return ReasonPingTimeout
			default:
				c.log.Debug("relay read failed", err)
				return ReasonTransportError
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, cn conn, pkt string) (string, bool) {
	if pkt == "" {
		return "", false
	}
	switch pkt[0] {
	case eioPing:
		if err := cn.write(string(eioPong) + pkt[1:]); err != nil {
			return ReasonTransportError, true
		}
	case eioClose:
		return ReasonTransportClose, true
	case eioMessage:
		p, err := decodeSocketPacket(pkt[1:])
		if err != nil {
			c.log.Debug("ignoring packet", err)
			return "", false
		}
		switch p.typ {
		case sioEvent:
			ev, err := decodeEvent(p)
			if err != nil {
				c.log.Warn("ignoring packet", err, map[string]interface{}{"packet": truncate(pkt)})
				return "", false
			}
			switch ev.Name {
			case classroom.EventConnect, classroom.EventDisconnect, classroom.EventReconnectFailed:
				c.log.Debug("ignoring reserved event name", map[string]interface{}{"event": ev.Name})
			default:
				c.push(ctx, ev)
			}
		case sioDisconnect:
			return ReasonServerDisconnect, true
		case sioConnectError:
			c.log.Warn("relay error", map[string]interface{}{"message": connectErrorMessage(p)})
		}
	}
	return "", false
}

func (c *Client) setConn(cn conn) {
	c.mu.Lock()
	c.cur = cn
	c.mu.Unlock()
}

// deliver emits a lifecycle event.
func (c *Client) deliver(ctx context.Context, name string, payload interface{}) {
	ev := classroom.RawEvent{Name: name}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.log.Error("encoding lifecycle event", err)
			return
		}
		ev.Payload = b
	}
	c.push(ctx, ev)
}

func (c *Client) push(ctx context.Context, ev classroom.RawEvent) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
