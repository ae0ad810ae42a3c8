// Package transport is the single point through which every HTTP
// interaction of the output subsystem passes. It issues requests with
// composable header scopes, classifies failures into retry policies, decodes
// JSON bodies, and streams multipart uploads with progress reporting.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single request when the caller's context carries
// no deadline of its own.
const DefaultTimeout = 10 * time.Second

// Part is one multipart/form-data part.
type Part struct {
	FieldName string
	FileName  string // empty for plain form values
	Body      []byte
	Headers   map[string]string // extra part headers, rarely needed
}

// Client issues HTTP requests on behalf of the API clients. The zero value
// is not usable; construct with New.
type Client struct {
	http    *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a transport client.
func New(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{},
		logger:  logger,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues a GET. Returns body and status for any completed response with
// a 2xx status; other outcomes return a classified *Error.
func (c *Client) Get(ctx context.Context, url string, scope Scope) ([]byte, int, error) {
	return c.Do(ctx, http.MethodGet, url, scope, nil)
}

// Post issues a POST with the given body.
func (c *Client) Post(ctx context.Context, url string, scope Scope, body []byte) ([]byte, int, error) {
	return c.Do(ctx, http.MethodPost, url, scope, body)
}

// Put issues a PUT with the given body.
func (c *Client) Put(ctx context.Context, url string, scope Scope, body []byte) ([]byte, int, error) {
	return c.Do(ctx, http.MethodPut, url, scope, body)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, url string, scope Scope) ([]byte, int, error) {
	return c.Do(ctx, http.MethodDelete, url, scope, nil)
}

// Do issues a request and classifies the outcome. A connection that never
// produced a status code yields a KindTransient error with Status 0.
func (c *Client) Do(ctx context.Context, method, url string, scope Scope, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	return c.send(ctx, method, url, scope, reader, "", 0, nil, c.timeout)
}

// PostForm composes and POSTs a multipart/form-data body. Progress reports
// bytes of the encoded form written to the wire.
func (c *Client) PostForm(ctx context.Context, url string, scope Scope, parts []Part, progress ProgressFunc) ([]byte, int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		hdr := make(textproto.MIMEHeader)
		if p.FileName != "" {
			hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.FieldName, p.FileName))
		} else {
			hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.FieldName))
		}
		for k, v := range p.Headers {
			hdr.Set(k, v)
		}
		pw, err := w.CreatePart(hdr)
		if err != nil {
			return nil, 0, &Error{Kind: KindFatal, Err: fmt.Errorf("create part %q: %w", p.FieldName, err)}
		}
		if _, err := pw.Write(p.Body); err != nil {
			return nil, 0, &Error{Kind: KindFatal, Err: fmt.Errorf("write part %q: %w", p.FieldName, err)}
		}
	}
	if err := w.Close(); err != nil {
		return nil, 0, &Error{Kind: KindFatal, Err: fmt.Errorf("finalize form: %w", err)}
	}

	// Transfers are paced by payload size, not the poll timeout; cancel
	// via ctx instead.
	total := int64(buf.Len())
	return c.send(ctx, http.MethodPost, url, scope, newProgressReader(&buf, total, progress), w.FormDataContentType(), total, progress, 0)
}

// PutStream PUTs a raw payload with an explicit content type, reporting
// progress. Used by the cloud upload's second phase.
func (c *Client) PutStream(ctx context.Context, url string, scope Scope, payload []byte, contentType string, progress ProgressFunc) ([]byte, int, error) {
	total := int64(len(payload))
	return c.send(ctx, http.MethodPut, url, scope, newProgressReader(bytes.NewReader(payload), total, progress), contentType, total, progress, 0)
}

// send issues the request. A zero timeout leaves pacing to the caller's
// context, which transfers rely on.
func (c *Client) send(ctx context.Context, method, url string, scope Scope, body io.Reader, contentType string, contentLength int64, progress ProgressFunc, timeout time.Duration) ([]byte, int, error) {
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, &Error{Kind: KindFatal, Err: fmt.Errorf("build request: %w", err)}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if contentLength > 0 {
		req.ContentLength = contentLength
	}
	if scope != nil {
		if err := scope.Apply(req); err != nil {
			return nil, 0, &Error{Kind: KindFatal, Err: fmt.Errorf("apply scope: %w", err)}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// No status code at all: the connection never completed.
		return nil, 0, &Error{Kind: KindTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{Kind: KindTransient, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if progress != nil && contentLength > 0 {
			progress(contentLength, contentLength)
		}
		return respBody, resp.StatusCode, nil
	}

	e := &Error{
		Kind:   classifyStatus(resp.StatusCode),
		Status: resp.StatusCode,
		Detail: firstErrorEntry(respBody),
	}
	if e.Kind == KindAuthRequired {
		e.Detail = resp.Header.Get("WWW-Authenticate")
	}
	c.logger.Debug("request failed",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.String("kind", e.Kind.String()),
	)
	return respBody, resp.StatusCode, e
}

// DecodeJSON parses a response body into target, converting malformed bodies
// into KindUnparseableBody so they never reach reply handlers.
func DecodeJSON(body []byte, target any) error {
	if err := json.Unmarshal(body, target); err != nil {
		return &Error{Kind: KindUnparseableBody, Err: err, Detail: snippet(body)}
	}
	return nil
}

// GetJSON issues a GET and decodes the 2xx body into target.
func (c *Client) GetJSON(ctx context.Context, url string, scope Scope, target any) error {
	body, _, err := c.Get(ctx, url, scope)
	if err != nil {
		return err
	}
	return DecodeJSON(body, target)
}

// firstErrorEntry extracts the first entry of an {errors:[...]} body, the
// shape both the cluster and cloud APIs use for failures.
func firstErrorEntry(body []byte) string {
	var envelope struct {
		Errors []struct {
			Code  string `json:"code"`
			Title string `json:"title"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return ""
	}
	first := envelope.Errors[0]
	if first.Title != "" {
		return first.Title
	}
	return first.Code
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
