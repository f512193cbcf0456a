package relay

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// pollConn is the HTTP long-polling fallback: a GET per batch of inbound packets, a POST per batch of
// outbound ones.
type pollConn struct {
	client   *http.Client
	endpoint *url.URL
	header   http.Header
	hs       handshake

	wmu    sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

var _ conn = (*pollConn)(nil)

func dialPolling(ctx context.Context, client *http.Client, endpoint *url.URL, header http.Header) (*pollConn, error) {
	u := *endpoint
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	pctx, cancel := context.WithCancel(context.Background())
	c := &pollConn{client: client, endpoint: &u, header: header, ctx: pctx, cancel: cancel}

	body, err := c.do(ctx, http.MethodGet, "")
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "polling handshake")
	}
	pkts := splitPayload(body)
	if len(pkts) == 0 {
		cancel()
		return nil, errors.New("polling handshake: empty payload")
	}
	if c.hs, err = parseHandshake(pkts[0]); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *pollConn) handshake() handshake { return c.hs }

func (c *pollConn) transport() string { return transportPolling }

func (c *pollConn) url() string {
	q := c.endpoint.Query()
	q.Set("EIO", "4")
	q.Set("transport", transportPolling)
	q.Set("t", uuid.New().String()[:8])
	if c.hs.SID != "" {
		q.Set("sid", c.hs.SID)
	}
	u := *c.endpoint
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *pollConn) do(ctx context.Context, method, payload string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(), strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	for k, vs := range c.header {
		req.Header[k] = vs
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(b)))
	}
	return string(b), nil
}

// read long-polls for the next batch. The server answers at least once per ping period.
func (c *pollConn) read() ([]string, error) {
	timeout := time.Duration(c.hs.PingInterval+c.hs.PingTimeout) * time.Millisecond
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	body, err := c.do(ctx, http.MethodGet, "")
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, errConnClosed
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errPingTimeout
		}
		return nil, errors.Wrap(err, "polling")
	}
	return splitPayload(body), nil
}

func (c *pollConn) write(pkts ...string) error {
	if len(pkts) == 0 {
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, writeWait)
	defer cancel()
	if _, err := c.do(ctx, http.MethodPost, joinPayload(pkts)); err != nil {
		return errors.Wrap(err, "posting packets")
	}
	return nil
}

func (c *pollConn) close() error {
	c.once.Do(func() {
		// best effort: tell the server, then abort any pending poll
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		_, _ = c.do(ctx, http.MethodPost, string(eioClose))
		cancel()
		c.cancel()
	})
	return nil
}
