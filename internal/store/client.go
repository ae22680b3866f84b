// Package store is a minimal S3-compatible object store client used to mirror
// published installers and prune old versions.
package store

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Doer abstracts HTTP request execution for testing.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	// Endpoint defaults to https://s3.<region>.amazonaws.com. Requests use
	// path-style addressing so MinIO and other S3-compatible servers work.
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Timeout         time.Duration
	HTTPClient      Doer
	Logger          zerolog.Logger
}

// Client issues signed requests against one bucket.
type Client struct {
	endpoint     string
	region       string
	bucket       string
	accessKey    string
	secretKey    string
	sessionToken string
	timeout      time.Duration
	http         Doer
	clock        func() time.Time
	logger       zerolog.Logger
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.Region == "" || opts.Bucket == "" {
		return nil, errors.New("store: region and bucket are required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, errors.New("store: access key id and secret access key are required")
	}
	endpoint := strings.TrimRight(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = "https://s3." + opts.Region + ".amazonaws.com"
	}
	if !strings.HasPrefix(endpoint, "https://") && !strings.HasPrefix(endpoint, "http://") {
		return nil, fmt.Errorf("store: endpoint %q must start with http:// or https://", endpoint)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoint:     endpoint,
		region:       opts.Region,
		bucket:       opts.Bucket,
		accessKey:    opts.AccessKeyID,
		secretKey:    opts.SecretAccessKey,
		sessionToken: opts.SessionToken,
		timeout:      opts.Timeout,
		http:         httpClient,
		clock:        time.Now,
		logger:       opts.Logger,
	}, nil
}

// WithClock replaces the signing clock.
func (c *Client) WithClock(clock func() time.Time) *Client {
	c.clock = clock
	return c
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string { return c.bucket }

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	// SHA256 is the x-amz-meta-sha256 metadata written by Put, if any.
	SHA256 string
}

// APIError is a non-2xx response from the store.
type APIError struct {
	Op         string
	Key        string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("store %s %s: HTTP %d", e.Op, e.Key, e.StatusCode)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsNotFound reports whether the object or bucket does not exist.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

type call struct {
	op          string
	method      string
	key         string
	query       map[string]string
	body        io.Reader
	size        int64
	payloadHash string
	header      http.Header
}

// do signs and sends a request. The caller closes the response body and must
// call the returned cancel func once done with it.
func (c *Client) do(ctx context.Context, k call) (*http.Response, context.CancelFunc, error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	canonicalURI := "/" + uriEncode(c.bucket, true)
	if k.key != "" {
		canonicalURI += "/" + uriEncode(k.key, false)
	} else {
		canonicalURI += "/"
	}
	canonicalQuery := canonicalQueryString(k.query)
	target := c.endpoint + canonicalURI
	if canonicalQuery != "" {
		target += "?" + canonicalQuery
	}

	req, err := http.NewRequestWithContext(ctx, k.method, target, k.body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("store %s: creating request: %w", k.op, err)
	}
	if k.body != nil {
		req.ContentLength = k.size
	}
	for name, values := range k.header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	payloadHash := k.payloadHash
	if payloadHash == "" {
		payloadHash = emptyPayloadHash
	}
	req.Header.Set("X-Amz-Date", c.clock().UTC().Format(amzDateFormat))
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	if c.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", c.sessionToken)
	}
	if err := signRequest(req, canonicalURI, canonicalQuery, c.region, c.accessKey, c.secretKey); err != nil {
		cancel()
		return nil, nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("store %s %s: %w", k.op, k.key, err)
	}
	return resp, cancel, nil
}

// exec runs a request whose body is fully consumed here.
func (c *Client) exec(ctx context.Context, k call) (*http.Response, []byte, error) {
	resp, cancel, err := c.do(ctx, k)
	if err != nil {
		return nil, nil, err
	}
	defer cancel()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("store %s %s: reading response: %w", k.op, k.key, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, body, parseAPIError(k.op, k.key, resp.StatusCode, body)
	}
	return resp, body, nil
}

func parseAPIError(op, key string, status int, body []byte) *APIError {
	e := &APIError{Op: op, Key: key, StatusCode: status}
	var parsed struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	if len(body) > 0 && xml.Unmarshal(body, &parsed) == nil {
		e.Code = parsed.Code
		e.Message = parsed.Message
	}
	return e
}

// Head returns metadata for key. The boolean is false when the object does
// not exist.
func (c *Client) Head(ctx context.Context, key string) (*ObjectInfo, bool, error) {
	resp, _, err := c.exec(ctx, call{op: "head", method: http.MethodHead, key: key})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil, false, nil
		}
		return nil, false, err
	}
	info := &ObjectInfo{
		Key:    key,
		Size:   resp.ContentLength,
		ETag:   strings.Trim(resp.Header.Get("ETag"), `"`),
		SHA256: resp.Header.Get("X-Amz-Meta-Sha256"),
	}
	if lm, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.LastModified = lm
	}
	return info, true, nil
}

// Put uploads size bytes from body. digest is the hex SHA-256 of the body; it
// is sent as the signed payload hash and stored as object metadata.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, digest, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set("X-Amz-Meta-Sha256", digest)
	_, _, err := c.exec(ctx, call{
		op:          "put",
		method:      http.MethodPut,
		key:         key,
		body:        body,
		size:        size,
		payloadHash: digest,
		header:      h,
	})
	return err
}

// Get opens key for reading. The caller must close the returned reader.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, cancel, err := c.do(ctx, call{op: "get", method: http.MethodGet, key: key})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, parseAPIError("get", key, resp.StatusCode, body)
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReadCloser) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, _, err := c.exec(ctx, call{op: "delete", method: http.MethodDelete, key: key})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsNotFound() {
		return nil
	}
	return err
}

type listBucketResult struct {
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
	Contents              []struct {
		Key          string    `xml:"Key"`
		Size         int64     `xml:"Size"`
		ETag         string    `xml:"ETag"`
		LastModified time.Time `xml:"LastModified"`
	} `xml:"Contents"`
}

// List returns every object whose key starts with prefix, following
// continuation tokens.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	token := ""
	for page := 0; ; page++ {
		query := map[string]string{"list-type": "2", "prefix": prefix}
		if token != "" {
			query["continuation-token"] = token
		}
		_, body, err := c.exec(ctx, call{op: "list", method: http.MethodGet, query: query})
		if err != nil {
			return nil, err
		}
		var result listBucketResult
		if err := xml.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("store list: decoding page %d: %w", page, err)
		}
		for _, o := range result.Contents {
			objects = append(objects, ObjectInfo{
				Key:          o.Key,
				Size:         o.Size,
				ETag:         strings.Trim(o.ETag, `"`),
				LastModified: o.LastModified,
			})
		}
		if !result.IsTruncated || result.NextContinuationToken == "" {
			return objects, nil
		}
		token = result.NextContinuationToken
	}
}
