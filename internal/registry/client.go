// ABOUTME: HTTP transport for the node registry with node_auth headers
// ABOUTME: Returns uniform responses and classifies transport and status failures

package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Routers of the registry API.
const (
	ConnectionsRouter = "lorawanconnections/"
	DevicesRouter     = "lorawandevices/"
	KeysRouter        = "lorawankeys/"
	HardwareRouter    = "sensorhardwares/"
)

var (
	// ErrUnavailable wraps transport failures. The registry could not be
	// reached and the caller cannot make progress.
	ErrUnavailable = errors.New("registry: unavailable")
	// ErrNotFound matches a *StatusError with status 404.
	ErrNotFound = errors.New("registry: not found")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Response is the result of any request that reached the registry.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding registry response: %w", err)
	}
	return nil
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://registry/api/v-beta/.
	BaseURL string
	// Node is the VSN used to scope connections and keys.
	Node  string
	Token string

	HTTPClient *http.Client
}

// Client talks to the node registry.
type Client struct {
	base   *url.URL
	node   string
	token  string
	http   *http.Client
	logger *slog.Logger
}

// New validates cfg and creates a client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("registry: base URL is empty")
	}
	if cfg.Node == "" {
		return nil, errors.New("registry: node is empty")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("registry: parsing base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("registry: base URL %q must be absolute", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   base,
		node:   cfg.Node,
		token:  cfg.Token,
		http:   hc,
		logger: logger.With("component", "registry"),
	}, nil
}

// Node returns the node VSN the client is scoped to.
func (c *Client) Node() string {
	return c.node
}

// Do sends a request with an optional JSON body. Any HTTP status yields a
// Response; only transport failures return an error.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parsing path %q: %w", path, err)
	}
	target := c.base.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "node_auth "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("registry unreachable", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s %s: %w", ErrUnavailable, method, path, err)
	}

	c.logger.Debug("registry request", "method", method, "path", path, "status", resp.StatusCode)
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

// Get fetches path. Non-2xx statuses return a *StatusError.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.expectOK(ctx, http.MethodGet, path, nil)
}

// Create POSTs body to router.
func (c *Client) Create(ctx context.Context, router string, body any) (*Response, error) {
	return c.expectOK(ctx, http.MethodPost, router, body)
}

// Update PATCHes body onto path.
func (c *Client) Update(ctx context.Context, path string, body any) (*Response, error) {
	return c.expectOK(ctx, http.MethodPatch, path, body)
}

// Exists reports whether path resolves. 200 means present and 404 absent;
// any other status is treated as absent and logged.
func (c *Client) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, err
	}
	switch resp.Status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		c.logger.Warn("unexpected status on existence check, assuming absent",
			"path", path,
			"status", resp.Status,
		)
		return false, nil
	}
}

func (c *Client) expectOK(ctx context.Context, method, path string, body any) (*Response, error) {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		serr := &StatusError{
			Method: method,
			Path:   path,
			Status: resp.Status,
			Body:   truncate(string(resp.Body), 512),
		}
		c.logger.Error("registry request failed",
			"method", method,
			"path", path,
			"status", resp.Status,
			"body", serr.Body,
		)
		return nil, serr
	}
	return resp, nil
}

// endpoint joins a router with escaped path segments and a trailing slash.
func endpoint(router string, segments ...string) string {
	var b strings.Builder
	b.WriteString(router)
	for _, s := range segments {
		b.WriteString(url.PathEscape(s))
		b.WriteByte('/')
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
