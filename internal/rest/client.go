// Package rest is the HTTP/JSON transport shared by the snapcheck clients.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultMaxResponseBytes = 16 << 20
	defaultUserAgent        = "snapcheck"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// APIKey is sent as the api-key header when non-empty.
	APIKey string
	// Timeout bounds each request, including reading the body. Zero disables it.
	Timeout time.Duration
	// MaxResponseBytes caps JSON and error bodies. Snapshot downloads are not capped.
	MaxResponseBytes int64
	UserAgent        string
}

// Client talks to one service endpoint. It never retries.
type Client struct {
	baseURL          *url.URL
	httpClient       *http.Client
	apiKey           string
	timeout          time.Duration
	maxResponseBytes int64
	userAgent        string
}

// Request describes a single call. JSON is marshalled as the body when set;
// otherwise Body and ContentType are used as-is.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	JSON        any
	Body        []byte
	ContentType string
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrInvalidArgument
	}
	parsed, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, ErrInvalidArgument
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxBytes := opts.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Client{
		baseURL:          parsed,
		httpClient:       httpClient,
		apiKey:           opts.APIKey,
		timeout:          opts.Timeout,
		maxResponseBytes: maxBytes,
		userAgent:        ua,
	}, nil
}

// BaseURL returns a copy of the endpoint.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Do sends req and calls onSuccess with any 2xx response. Non-2xx statuses
// and transport failures become *ServiceError.
func (c *Client) Do(ctx context.Context, req Request, onSuccess func(*http.Response) error) error {
	if ctx == nil {
		return ErrInvalidArgument
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ServiceError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.readServiceError(req, resp)
	}
	if onSuccess == nil {
		return drainResponse(resp)
	}
	return onSuccess(resp)
}

// DoJSON sends req and decodes the envelope's result into out. A nil out
// discards the body. An absent or null result is ErrMissingField.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	return c.Do(ctx, req, func(resp *http.Response) error {
		if out == nil {
			return drainResponse(resp)
		}
		body, err := c.readLimited(resp)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return &ServiceError{Method: req.Method, Path: req.Path, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
		}
		if len(env.Result) == 0 || string(env.Result) == "null" {
			return MissingField("result")
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &ServiceError{Method: req.Method, Path: req.Path, StatusCode: resp.StatusCode, Message: "decode result", Err: err}
		}
		return nil
	})
}

// DoRaw sends req and returns the full response body.
func (c *Client) DoRaw(ctx context.Context, req Request) ([]byte, error) {
	var out []byte
	err := c.Do(ctx, req, func(resp *http.Response) error {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return &ServiceError{Method: req.Method, Path: req.Path, StatusCode: resp.StatusCode, Message: "read body", Err: err}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	contentType := req.ContentType
	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case req.Body != nil:
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.buildURL(req.Path, req.Query), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("api-key", c.apiKey)
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	return httpReq, nil
}

func (c *Client) buildURL(pathSuffix string, query url.Values) string {
	base := *c.baseURL
	setEscapedPath(&base, joinURLPath(base.EscapedPath(), pathSuffix))
	if len(query) > 0 {
		base.RawQuery = query.Encode()
	}
	return base.String()
}

func (c *Client) readServiceError(req Request, resp *http.Response) error {
	svcErr := &ServiceError{Method: req.Method, Path: req.Path, StatusCode: resp.StatusCode}
	body, err := c.readLimited(resp)
	if err != nil {
		svcErr.Err = err
		return svcErr
	}
	svcErr.Message = errorMessage(body)
	return svcErr
}

func (c *Client) readLimited(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, ErrResponseTooLarge
	}
	return body, nil
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

// errorMessage extracts status.error from an error envelope, falling back
// to the trimmed body.
func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Status) > 0 {
		var status struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(env.Status, &status); err == nil && status.Error != "" {
			return status.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func drainResponse(resp *http.Response) error {
	_, err := io.Copy(io.Discard, resp.Body)
	return err
}

func joinURLPath(basePath string, suffix string) string {
	basePath = strings.TrimSuffix(basePath, "/")
	suffix = strings.TrimPrefix(suffix, "/")

	if suffix == "" {
		if basePath == "" {
			return "/"
		}
		return basePath
	}
	return basePath + "/" + suffix
}

// Path joins segments into an escaped request path, so a segment holding
// "/" or "?" stays one segment.
func Path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	return "/" + strings.Join(escaped, "/")
}

// AppendPath appends an escaped path built by Path to u.
func AppendPath(u *url.URL, escapedPath string) {
	setEscapedPath(u, joinURLPath(u.EscapedPath(), escapedPath))
}

func setEscapedPath(u *url.URL, rawPath string) {
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		path = rawPath
	}
	u.Path = path
	u.RawPath = rawPath
}
