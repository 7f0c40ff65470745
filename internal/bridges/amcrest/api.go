package amcrest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Camera communication defaults.
const (
	// CommRetries is how many times a connection-level failure is retried.
	CommRetries = 1

	// CommTimeout bounds a single command round trip.
	CommTimeout = 6050 * time.Millisecond

	// maxResponseSize caps the body read for non-streaming commands.
	maxResponseSize = 1 << 20
)

// API is the camera command interface the Checker wraps.
//
// Command performs one CGI call and returns the full reply. StreamCommand
// opens a long-lived reply (event stream) that the caller must close.
// Failures are *LoginError or *DeviceError; a cancelled ctx returns ctx.Err().
type API interface {
	Command(ctx context.Context, cmd string) (*Response, error)
	StreamCommand(ctx context.Context, cmd string) (io.ReadCloser, error)
}

// Response is a completed camera reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// Text returns the reply body as a trimmed string.
func (r *Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// Name identifies the camera in errors.
	Name string

	Host     string
	Port     int
	Username string
	Password string

	// Scheme is "http" (default) or "https".
	Scheme string

	// Timeout bounds each command. Default: CommTimeout.
	Timeout time.Duration

	// Retries is the connection-level retry count. Default: CommRetries.
	// Use a negative value to disable retries.
	Retries int

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// HTTPClient talks to the camera's /cgi-bin/ HTTP API using Digest
// authentication, falling back to Basic when the camera asks for it.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type HTTPClient struct {
	name     string
	baseURL  string
	username string
	password string
	timeout  time.Duration
	retries  int
	http     *http.Client

	// Last challenge seen, reused pre-emptively so most commands take
	// one round trip.
	authMu sync.Mutex
	auth   *challenge
	nc     int
}

// NewHTTPClient creates a camera HTTP client. No connection is made.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = CommTimeout
	}
	retries := cfg.Retries
	switch {
	case retries == 0:
		retries = CommRetries
	case retries < 0:
		retries = 0
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &HTTPClient{
		name:     cfg.Name,
		baseURL:  fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		retries:  retries,
		// No client-wide timeout: event streams stay open indefinitely.
		http: &http.Client{Transport: transport},
	}
}

// Command performs a CGI command, e.g. "global.cgi?action=getCurrentTime".
func (c *HTTPClient) Command(ctx context.Context, cmd string) (*Response, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, cmdCtx, cmd)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.deviceError(cmd, 0, fmt.Errorf("reading response: %w", err))
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// StreamCommand performs a CGI command whose reply is read incrementally.
// Only connection setup is bounded by the command timeout.
func (c *HTTPClient) StreamCommand(ctx context.Context, cmd string) (io.ReadCloser, error) {
	setupCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// The request itself must outlive setupCtx, so only header arrival is
	// bounded by it.
	streamCtx, streamCancel := context.WithCancel(ctx)
	done := make(chan streamResult, 1)
	go func() {
		resp, err := c.do(ctx, streamCtx, cmd)
		done <- streamResult{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			streamCancel()
			return nil, r.err
		}
		return &streamBody{ReadCloser: r.resp.Body, cancel: streamCancel}, nil
	case <-setupCtx.Done():
		streamCancel()
		go drainStream(done)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.deviceError(cmd, 0, fmt.Errorf("stream setup timed out after %v", c.timeout))
	}
}

// streamBody releases the stream's context when closed.
type streamBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

type streamResult struct {
	resp *http.Response
	err  error
}

// drainStream closes a stream whose caller has already given up on it.
func drainStream(done <-chan streamResult) {
	if r := <-done; r.resp != nil {
		r.resp.Body.Close() //nolint:errcheck // Abandoned stream
	}
}

// do issues the request with retries for connection failures. parent is the
// caller's context, used to tell cancellation apart from timeouts.
func (c *HTTPClient) do(parent, ctx context.Context, cmd string) (*http.Response, error) {
	var resp *http.Response

	operation := func() error {
		r, err := c.roundTrip(ctx, cmd)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.retries)), //nolint:gosec // retries >= 0
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		var loginErr *LoginError
		var deviceErr *DeviceError
		if errors.As(err, &loginErr) || errors.As(err, &deviceErr) {
			return nil, err
		}
		return nil, c.deviceError(cmd, 0, err)
	}
	return resp, nil
}

// roundTrip performs one authenticated request. Non-transport failures are
// wrapped in backoff.Permanent so they are not retried.
func (c *HTTPClient) roundTrip(ctx context.Context, cmd string) (*http.Response, error) {
	target := c.baseURL + "/cgi-bin/" + cmd
	u, err := url.Parse(target)
	if err != nil {
		return nil, backoff.Permanent(c.deviceError(cmd, 0, err))
	}

	resp, err := c.send(ctx, u, c.currentAuth())
	if err != nil {
		return nil, c.deviceError(cmd, 0, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		ch, ok := parseChallenge(resp.Header.Get("WWW-Authenticate"))
		resp.Body.Close() //nolint:errcheck // Retrying with credentials
		if !ok {
			return nil, backoff.Permanent(&LoginError{Camera: c.name, Err: fmt.Errorf("unsupported authentication challenge")})
		}
		c.setAuth(ch)

		resp, err = c.send(ctx, u, &ch)
		if err != nil {
			return nil, c.deviceError(cmd, 0, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close() //nolint:errcheck // Credentials rejected
			return nil, backoff.Permanent(&LoginError{Camera: c.name})
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256)) //nolint:errcheck // Best effort detail
		resp.Body.Close()                                        //nolint:errcheck // Error path
		var detail error
		if s := strings.TrimSpace(string(snippet)); s != "" {
			detail = errors.New(s)
		}
		return nil, backoff.Permanent(c.deviceError(cmd, resp.StatusCode, detail))
	}

	return resp, nil
}

func (c *HTTPClient) send(ctx context.Context, u *url.URL, ch *challenge) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	if ch != nil {
		switch ch.scheme {
		case "basic":
			req.SetBasicAuth(c.username, c.password)
		case "digest":
			req.Header.Set("Authorization",
				ch.authorization(http.MethodGet, u.RequestURI(), c.username, c.password, c.nextNonceCount(), newCnonce()))
		}
	}

	return c.http.Do(req)
}

func (c *HTTPClient) currentAuth() *challenge {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if c.auth == nil {
		return nil
	}
	ch := *c.auth
	return &ch
}

func (c *HTTPClient) setAuth(ch challenge) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	if c.auth == nil || c.auth.nonce != ch.nonce {
		c.nc = 0
	}
	c.auth = &ch
}

func (c *HTTPClient) nextNonceCount() int {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.nc++
	return c.nc
}

func (c *HTTPClient) deviceError(cmd string, status int, err error) *DeviceError {
	return &DeviceError{Camera: c.name, Command: commandName(cmd), StatusCode: status, Err: err}
}

// commandName reduces a CGI command to a low-cardinality label,
// e.g. "configManager.cgi?action=setConfig&..." -> "configManager.setConfig".
func commandName(cmd string) string {
	path, query, _ := strings.Cut(cmd, "?")
	path = strings.TrimSuffix(path, ".cgi")
	if values, err := url.ParseQuery(query); err == nil {
		if action := values.Get("action"); action != "" {
			return path + "." + action
		}
	}
	return path
}
