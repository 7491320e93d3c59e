// Package httpclient wraps resty with the single-attempt, bounded-timeout
// behavior every outbound call in newspush uses.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout   = 30 * time.Second
	defaultUserAgent = "newspush/1.0"
	snippetMaxLen    = 512
)

// Response is the part of an HTTP response the callers inspect.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r != nil && r.StatusCode >= 200 && r.StatusCode < 300 }

// Snippet returns a trimmed, bounded copy of the body for diagnostics.
func (r *Response) Snippet() string {
	if r == nil {
		return "<no response>"
	}
	return Snippet(r.Body)
}

// Client performs single-attempt HTTP calls. Implementations must not retry.
type Client interface {
	Get(ctx context.Context, rawURL string, query map[string]string) (*Response, error)
	PostJSON(ctx context.Context, rawURL string, query map[string]string, body any) (*Response, error)
}

type restyClient struct {
	rc *resty.Client
}

// NewRestyClient builds a Client with the given per-call timeout.
// A non-positive timeout falls back to DefaultTimeout.
func NewRestyClient(timeout time.Duration) Client {
	return newRestyClient(resty.New(), timeout)
}

// NewRestyClientFrom builds a Client on top of an existing *http.Client
// (tests pass httptest clients here).
func NewRestyClientFrom(hc *http.Client, timeout time.Duration) Client {
	return newRestyClient(resty.NewWithClient(hc), timeout)
}

func newRestyClient(rc *resty.Client, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc.SetTimeout(timeout).
		SetRetryCount(0).
		SetLogger(quietLogger{}).
		SetHeader("User-Agent", defaultUserAgent).
		SetHeader("Accept", "application/json")
	return &restyClient{rc: rc}
}

func (c *restyClient) Get(ctx context.Context, rawURL string, query map[string]string) (*Response, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(rawURL)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", Redact(rawURL), scrub(err))
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

func (c *restyClient) PostJSON(ctx context.Context, rawURL string, query map[string]string, body any) (*Response, error) {
	payload, err := encodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetBody(payload).
		Post(rawURL)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", Redact(rawURL), scrub(err))
	}
	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

// quietLogger drops resty's own log lines; their messages embed request URLs
// with credentials. Callers log redacted errors instead.
type quietLogger struct{}

func (quietLogger) Errorf(string, ...interface{}) {}
func (quietLogger) Warnf(string, ...interface{})  {}
func (quietLogger) Debugf(string, ...interface{}) {}

// encodeJSON marshals without HTML escaping; the platform stores article
// content verbatim and would otherwise show \u003c escapes.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Snippet trims body and caps it for log lines and error details.
func Snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "<empty>"
	}
	if len(s) > snippetMaxLen {
		return s[:snippetMaxLen] + "..."
	}
	return s
}

var secretParams = []string{"secret", "access_token", "appid"}

// Redact masks credential query parameters so URLs are safe to log.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	changed := false
	for _, k := range secretParams {
		if q.Has(k) {
			q.Set(k, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// scrub redacts the request URL embedded in transport errors.
func scrub(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = Redact(ue.URL)
	}
	return err
}
