package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/classguard/core"
	"github.com/trezcool/classguard/core/analysis"
)

// maxErrorBody bounds how much of a failed response is read to find the error message.
const maxErrorBody = 64 << 10

// Client posts JSON to the inference server.
type Client struct {
	baseURL string
	http    *http.Client
	log     core.Logger
}

var _ analysis.Backend = (*Client)(nil)

// NewClient returns a Client for `baseURL`. Timeouts come from the request context, so `hc` should not set one.
func NewClient(baseURL string, hc *http.Client, logger core.Logger) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if logger == nil {
		logger = core.NopLogger
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		log:     logger,
	}
}

func (c *Client) Post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rErr := &analysis.ResponseError{StatusCode: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if b, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil {
			_ = json.Unmarshal(b, &payload)
		}
		rErr.Message = payload.Error
		c.log.Debug("inference request failed", map[string]interface{}{"path": path, "status": resp.StatusCode})
		return rErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrap(err, "decoding response")
	}
	return nil
}
