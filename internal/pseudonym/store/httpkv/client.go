// Package httpkv is a bridge to a remote HTTP object store that supports
// conditional PUT (If-None-Match: *), such as internal/kvserver.
package httpkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/pkg/platform/sentinel"
	"pseudonym/pkg/requestcontext"
)

const (
	defaultRecordPrefix = "records/"
	// MaxObjectSize is the largest object GetBlob accepts.
	MaxObjectSize = 4 << 20
)

// ErrObjectTooLarge is returned for objects above MaxObjectSize.
var ErrObjectTooLarge = errors.New("object too large")

type Client struct {
	baseURL      string
	httpClient   *http.Client
	recordPrefix string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithRecordPrefix sets the object path prefix for records.
func WithRecordPrefix(prefix string) Option {
	return func(client *Client) {
		client.recordPrefix = prefix
	}
}

// New returns a client for the object store at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid object store URL %q: %w", baseURL, models.ErrInvalidConfiguration)
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		recordPrefix: defaultRecordPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) recordName(key models.Digest) string {
	return c.recordPrefix + key.Hex()
}

func (c *Client) Get(ctx context.Context, key models.Digest) ([]byte, bool, error) {
	return c.GetBlob(ctx, c.recordName(key))
}

// PutIfAbsent issues a conditional PUT. On 412 the winning value is read back.
func (c *Client) PutIfAbsent(ctx context.Context, key models.Digest, value []byte) (ports.Outcome, error) {
	name := c.recordName(key)
	status, err := c.put(ctx, name, value, true)
	if err != nil {
		return ports.Outcome{}, err
	}
	switch status {
	case http.StatusCreated, http.StatusOK, http.StatusNoContent:
		return ports.Outcome{Stored: true}, nil
	case http.StatusPreconditionFailed:
		existing, found, err := c.GetBlob(ctx, name)
		if err != nil {
			return ports.Outcome{}, err
		}
		if !found {
			return ports.Outcome{}, nil
		}
		return ports.Outcome{Existing: existing}, nil
	default:
		return ports.Outcome{}, statusError("put", status)
	}
}

// GetBlob reads an arbitrary object.
func (c *Client) GetBlob(ctx context.Context, name string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(name), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build get request: %w", err)
	}
	c.decorate(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("get object: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxObjectSize+1))
		if err != nil {
			return nil, false, fmt.Errorf("read object: %w", err)
		}
		if len(body) > MaxObjectSize {
			return nil, false, fmt.Errorf("read object: over %d bytes: %w", MaxObjectSize, ErrObjectTooLarge)
		}
		return body, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, statusError("get", resp.StatusCode)
	}
}

// PutBlob writes an arbitrary object unconditionally.
func (c *Client) PutBlob(ctx context.Context, name string, data []byte) error {
	status, err := c.put(ctx, name, data, false)
	if err != nil {
		return err
	}
	if status != http.StatusCreated && status != http.StatusOK && status != http.StatusNoContent {
		return statusError("put", status)
	}
	return nil
}

func (c *Client) put(ctx context.Context, name string, data []byte, ifAbsent bool) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(name), bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build put request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if ifAbsent {
		req.Header.Set("If-None-Match", "*")
	}
	c.decorate(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("put object: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxObjectSize))
	return resp.StatusCode, nil
}

func (c *Client) objectURL(name string) string {
	return c.baseURL + "/v1/objects/" + name
}

func (c *Client) decorate(ctx context.Context, req *http.Request) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
}

func statusError(op string, status int) error {
	if status >= 500 {
		return fmt.Errorf("%s object: status %d: %w", op, status, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s object: unexpected status %d", op, status)
}
