package drive

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL   = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	MimeTypeFolder = "application/vnd.google-apps.folder"
	MimeTypeJSON   = "application/json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type (
	// Client is a thin transport for a Drive compatible REST service.
	// It never retries; callers decide on retry policy.
	Client struct {
		l           *zap.Logger
		httpClient  *http.Client
		tokenSource oauth2.TokenSource
		baseURL     string
		uploadURL   string
		userAgent   string
	}
	Option func(*Client)
)

// Request describes a single call against the remote service.
type Request struct {
	Method string
	// Path is relative to the api base url, or to the upload base url when Upload is set.
	// Absolute urls (resumable session uris) are used as they are.
	Path        string
	Upload      bool
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header
}

// Response is a fully read 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ------------------------------------------------------------------------------------------------
// ~ Constructor
// ------------------------------------------------------------------------------------------------

func New(l *zap.Logger, opts ...Option) *Client {
	inst := &Client{
		l:          l.Named("drive"),
		httpClient: http.DefaultClient,
		baseURL:    DefaultBaseURL,
		uploadURL:  DefaultUploadURL,
		userAgent:  "cloudbackup",
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst
}

// ------------------------------------------------------------------------------------------------
// ~ Options
// ------------------------------------------------------------------------------------------------

func WithHTTPClient(v *http.Client) Option {
	return func(o *Client) {
		o.httpClient = v
	}
}

func WithTokenSource(v oauth2.TokenSource) Option {
	return func(o *Client) {
		o.tokenSource = v
	}
}

// WithAccessToken uses a static bearer token which is never refreshed.
func WithAccessToken(v string) Option {
	return func(o *Client) {
		o.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: v})
	}
}

func WithBaseURL(v string) Option {
	return func(o *Client) {
		o.baseURL = strings.TrimSuffix(v, "/")
	}
}

func WithUploadURL(v string) Option {
	return func(o *Client) {
		o.uploadURL = strings.TrimSuffix(v, "/")
	}
}

func WithUserAgent(v string) Option {
	return func(o *Client) {
		o.userAgent = v
	}
}

// ------------------------------------------------------------------------------------------------
// ~ Public methods
// ------------------------------------------------------------------------------------------------

// Do executes the request and returns the response for any 2xx status.
// Non-2xx statuses are returned as *APIError, *NotFoundError or *AuthError,
// transport failures as *NetworkError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	c.l.Debug("request",
		zap.String("method", httpReq.Method),
		zap.String("url", httpReq.URL.Redacted()),
		zap.Int("body_length", len(req.Body)),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: httpReq.Method + " " + req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "read " + req.Path, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, classify(newAPIError(httpResp.StatusCode, httpResp.Status, body))
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   body,
	}, nil
}

// DecodeJSON unmarshals body into v. An empty body is not an error: it
// reports false so that "nothing there" stays distinguishable from garbage.
func DecodeJSON(body []byte, v interface{}) (bool, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, &ParseError{Err: err, Length: len(body)}
	}
	return true, nil
}

// ------------------------------------------------------------------------------------------------
// ~ Private methods
// ------------------------------------------------------------------------------------------------

func (c *Client) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target, err := c.resolveURL(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token()
		if err != nil {
			return nil, tokenError(err)
		}
		token.SetAuthHeader(httpReq)
	}
	return httpReq, nil
}

func (c *Client) resolveURL(req *Request) (string, error) {
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		u, err := url.Parse(req.Path)
		if err != nil {
			return "", errors.Wrapf(err, "invalid url %q", req.Path)
		}
		if len(req.Query) > 0 {
			q := u.Query()
			for key, values := range req.Query {
				for _, value := range values {
					q.Add(key, value)
				}
			}
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}

	base := c.baseURL
	if req.Upload {
		base = c.uploadURL
	}
	target := base + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	return target, nil
}

func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := http.StatusUnauthorized
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &AuthError{APIError: &APIError{
			Status:  status,
			Message: retrieveErr.ErrorDescription,
			Reason:  retrieveErr.ErrorCode,
		}}
	}
	return errors.Wrap(err, "failed to obtain access token")
}
