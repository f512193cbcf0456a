package relay

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	transportWebsocket = "websocket"
	transportPolling   = "polling"
)

// conn is one Engine.IO connection over a concrete transport.
type conn interface {
	// read blocks until at least one packet arrives or the connection is gone.
	read() ([]string, error)
	write(pkts ...string) error
	close() error
	handshake() handshake
	transport() string
}

type wsConn struct {
	ws   *websocket.Conn
	hs   handshake
	wmu  sync.Mutex
	once sync.Once
}

var _ conn = (*wsConn)(nil)

func dialWebsocket(ctx context.Context, dialer *websocket.Dialer, endpoint *url.URL, header http.Header) (*wsConn, error) {
	u := *endpoint
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", transportWebsocket)
	u.RawQuery = q.Encode()

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake failed with status %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dialing websocket")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	}
	_, msg, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, errors.Wrap(err, "reading open packet")
	}
	hs, err := parseHandshake(string(msg))
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	// hs.MaxPayload bounds what the server accepts, not what it sends
	_ = ws.SetReadDeadline(time.Time{})
	return &wsConn{ws: ws, hs: hs}, nil
}

func (c *wsConn) handshake() handshake { return c.hs }

func (c *wsConn) transport() string { return transportWebsocket }

// read waits at most one ping period for the next frame: the server pings every pingInterval.
func (c *wsConn) read() ([]string, error) {
	timeout := time.Duration(c.hs.PingInterval+c.hs.PingTimeout) * time.Millisecond
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(timeout))
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				return nil, errPingTimeout
			}
			return nil, errors.Wrap(err, "reading websocket")
		}
		if typ != websocket.TextMessage {
			continue // binary attachments are not supported
		}
		return []string{string(msg)}, nil
	}
}

func (c *wsConn) write(pkts ...string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for _, pkt := range pkts {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, []byte(pkt)); err != nil {
			return errors.Wrap(err, "writing websocket")
		}
	}
	return nil
}

func (c *wsConn) close() error {
	var err error
	c.once.Do(func() {
		c.wmu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}
