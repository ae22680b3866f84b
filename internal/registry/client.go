// Package registry talks to a Fleet-style device-management server: it
// resolves the server's capability version, probes for already-published
// packages, uploads installers, and manages auto-update policies.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// apiPrefix is appended to the configured server URL.
const apiPrefix = "/api/v1/fleet"

// maxErrorBody caps how much of a failed response is kept for error messages.
const maxErrorBody = 64 * 1024

// Doer abstracts HTTP request execution for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the server root, e.g. https://fleet.example.com.
	BaseURL string
	Token   string
	TeamID  int

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient Doer

	// Timeout bounds every read request. UploadTimeout bounds package uploads.
	Timeout       time.Duration
	UploadTimeout time.Duration

	Logger zerolog.Logger
}

// Client is a Fleet REST API client bound to one team.
type Client struct {
	apiBase       string
	token         string
	teamID        int
	http          Doer
	timeout       time.Duration
	uploadTimeout time.Duration
	logger        zerolog.Logger
}

// New creates a Client. The base URL and token are required.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("registry: base URL is required")
	}
	if !strings.HasPrefix(base, "https://") && !strings.HasPrefix(base, "http://") {
		return nil, fmt.Errorf("registry: base URL %q must start with http:// or https://", base)
	}
	if opts.Token == "" {
		return nil, errors.New("registry: token is required")
	}
	if !strings.HasSuffix(base, apiPrefix) {
		base += apiPrefix
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		apiBase:       base,
		token:         opts.Token,
		teamID:        opts.TeamID,
		http:          httpClient,
		timeout:       opts.Timeout,
		uploadTimeout: opts.UploadTimeout,
		logger:        opts.Logger,
	}, nil
}

// TeamID returns the team this client operates on.
func (c *Client) TeamID() int { return c.teamID }

// request describes one API call.
type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	timeout     time.Duration
}

// send executes req and returns the status code and response body. Network
// failures are reported as *TransportError; status codes are not interpreted.
func (c *Client) send(ctx context.Context, r request) (int, []byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.apiBase+r.path, r.body)
	if err != nil {
		return 0, nil, &TransportError{Op: r.op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: r.op, Err: fmt.Errorf("reading response: %w", err)}
	}
	return resp.StatusCode, body, nil
}

// getJSON performs a GET and decodes a 2xx response into out.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	status, body, err := c.send(ctx, request{op: op, method: http.MethodGet, path: path, timeout: c.timeout})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return newAPIError(op, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}

// sendJSON encodes in as the request body and decodes a 2xx response into out
// (skipped when out is nil).
func (c *Client) sendJSON(ctx context.Context, op, method, path string, in, out any) error {
	encoded, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encoding request: %w", op, err)
	}
	status, body, err := c.send(ctx, request{
		op:          op,
		method:      method,
		path:        path,
		body:        bytes.NewReader(encoded),
		contentType: "application/json",
		timeout:     c.timeout,
	})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return newAPIError(op, status, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
