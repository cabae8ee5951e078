// Package report posts meter readings to HTTP API.
package report

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/p1relay/log2"
)

const (
	DefaultTimeout = 30 * time.Second
	maxDrain       = 64 << 10
)

type Config struct {
	URL     string
	Token   string // secret
	Timeout time.Duration

	// test code sets Transport
	Transport http.RoundTripper
}

type Client struct {
	url   string
	token string
	http  *http.Client
	log   *log2.Log
}

func NewClient(c Config, log *log2.Log) (*Client, error) {
	if c.URL == "" {
		return nil, errors.NotValidf("report url empty")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		url:   c.URL,
		token: c.Token,
		http:  &http.Client{Timeout: timeout, Transport: c.Transport},
		log:   log,
	}, nil
}

// Report sends JSON body, returns response status code.
// Error means no response was received; any status code is not an error here.
func (self *Client) Report(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, self.url, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Annotate(err, "report request")
	}
	req.Header.Set("Content-Type", "application/json")
	if self.token != "" {
		req.Header.Set("Authorization", "Bearer "+self.token)
	}
	resp, err := self.http.Do(req)
	if err != nil {
		return 0, errors.Annotatef(err, "report post url=%s", self.url)
	}
	defer resp.Body.Close()
	if _, err = io.Copy(ioutil.Discard, io.LimitReader(resp.Body, maxDrain)); err != nil {
		self.log.Debugf("report drain response err=%v", err)
	}
	return resp.StatusCode, nil
}

func IsSuccess(status int) bool { return status >= 200 && status < 300 }
