package amcrest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testUser  = "admin"
	testPass  = "secret"
	testRealm = "Login to AMC0123"
)

// digestServer is a camera stand-in that requires Digest auth.
type digestServer struct {
	mu       sync.Mutex
	nonce    string
	requests int
	lastNC   string
}

func (s *digestServer) handler(body func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		nonce := s.nonce
		s.mu.Unlock()

		params := parseAuthHeader(r.Header.Get("Authorization"))
		if params == nil || !validDigest(params, r.Method, nonce) {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s", opaque="abc"`, testRealm, nonce))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		s.mu.Lock()
		s.lastNC = params["nc"]
		s.mu.Unlock()
		body(w, r)
	}
}

func parseAuthHeader(h string) map[string]string {
	rest, ok := strings.CutPrefix(h, "Digest ")
	if !ok {
		return nil
	}
	params := map[string]string{}
	for _, p := range splitParams(rest) {
		k, v, _ := strings.Cut(p, "=")
		params[strings.TrimSpace(k)] = strings.Trim(v, `"`)
	}
	return params
}

func validDigest(p map[string]string, method, nonce string) bool {
	if p["username"] != testUser || p["nonce"] != nonce {
		return false
	}
	ha1 := md5hex(testUser + ":" + testRealm + ":" + testPass)
	ha2 := md5hex(method + ":" + p["uri"])
	want := md5hex(ha1 + ":" + nonce + ":" + p["nc"] + ":" + p["cnonce"] + ":auth:" + ha2)
	return p["response"] == want
}

func newTestClient(t *testing.T, srv *httptest.Server, password string) *HTTPClient {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return NewHTTPClient(HTTPClientConfig{
		Name:     "front",
		Host:     host,
		Port:     port,
		Username: testUser,
		Password: password,
		Timeout:  time.Second,
	})
}

func TestHTTPClient_DigestAuth(t *testing.T) {
	ds := &digestServer{nonce: "n1"}
	srv := httptest.NewServer(ds.handler(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cgi-bin/global.cgi" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, "result=2026-10-18 12:00:00\r\n")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, testPass)

	resp, err := client.Command(context.Background(), cmdCurrentTime)
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if got := resp.Text(); got != "result=2026-10-18 12:00:00" {
		t.Errorf("Text() = %q", got)
	}

	// The cached challenge is reused: one request, nonce count advances.
	ds.mu.Lock()
	before := ds.requests
	ds.mu.Unlock()
	if _, err := client.Command(context.Background(), cmdCurrentTime); err != nil {
		t.Fatalf("second Command() error = %v", err)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.requests-before != 1 {
		t.Errorf("second command took %d requests, want 1", ds.requests-before)
	}
	if ds.lastNC != "00000002" {
		t.Errorf("nc = %s, want 00000002", ds.lastNC)
	}
}

func TestHTTPClient_NonceRotation(t *testing.T) {
	ds := &digestServer{nonce: "n1"}
	srv := httptest.NewServer(ds.handler(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "OK")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, testPass)
	if _, err := client.Command(context.Background(), cmdCurrentTime); err != nil {
		t.Fatalf("Command() error = %v", err)
	}

	ds.mu.Lock()
	ds.nonce = "n2"
	ds.mu.Unlock()

	if _, err := client.Command(context.Background(), cmdCurrentTime); err != nil {
		t.Fatalf("Command() after nonce change error = %v", err)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.lastNC != "00000001" {
		t.Errorf("nc = %s after new nonce, want 00000001", ds.lastNC)
	}
}

func TestHTTPClient_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testUser || pass != testPass {
			w.Header().Set("WWW-Authenticate", `Basic realm="cam"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, "OK")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, testPass)
	resp, err := client.Command(context.Background(), "configManager.cgi?action=setConfig&LeLensMask[0].Enable=true")
	if err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if resp.Text() != "OK" {
		t.Errorf("Text() = %q", resp.Text())
	}
}

func TestHTTPClient_BadCredentials(t *testing.T) {
	ds := &digestServer{nonce: "n1"}
	srv := httptest.NewServer(ds.handler(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "OK")
	}))
	defer srv.Close()

	client := newTestClient(t, srv, "wrong")
	_, err := client.Command(context.Background(), cmdCurrentTime)

	if !errors.Is(err, ErrLogin) {
		t.Fatalf("error = %v, want ErrLogin", err)
	}
	if errors.Is(err, ErrDevice) {
		t.Error("login error must not match ErrDevice")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.requests != 2 {
		t.Errorf("requests = %d, want 2 (no retry on login failure)", ds.requests)
	}
}

func TestHTTPClient_ErrorStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "Error\nBad Request!", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, testPass)
	_, err := client.Command(context.Background(), "configManager.cgi?action=getConfig&name=Nope")

	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("error = %v, want *DeviceError", err)
	}
	if devErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d", devErr.StatusCode)
	}
	if devErr.Command != "configManager.getConfig" {
		t.Errorf("Command = %q", devErr.Command)
	}
	if !strings.Contains(devErr.Error(), "Bad Request!") {
		t.Errorf("Error() = %q, want body detail", devErr.Error())
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, error statuses must not be retried", hits.Load())
	}
}

// flakyTransport fails the first n requests at the connection level.
type flakyTransport struct {
	failures atomic.Int32
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(r)
}

func TestHTTPClient_RetriesConnectionFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "OK")
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		failures int32
		wantErr  bool
		calls    int32
	}{
		{"one failure recovers", 1, false, 2},
		{"two failures exhaust retries", 2, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &flakyTransport{next: http.DefaultTransport}
			transport.failures.Store(tt.failures)

			client := newTestClient(t, srv, testPass)
			client.http.Transport = transport

			_, err := client.Command(context.Background(), cmdCurrentTime)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Command() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrDevice) {
				t.Errorf("error = %v, want ErrDevice", err)
			}
			if got := transport.calls.Load(); got != tt.calls {
				t.Errorf("calls = %d, want %d", got, tt.calls)
			}
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		fmt.Fprint(w, "OK")
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv, testPass)
	client.timeout = 50 * time.Millisecond
	client.retries = 0

	_, err := client.Command(context.Background(), cmdCurrentTime)
	if !errors.Is(err, ErrDevice) {
		t.Errorf("error = %v, want ErrDevice on timeout", err)
	}
}

func TestHTTPClient_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv, testPass)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Command(ctx, cmdCurrentTime)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrDevice) || errors.Is(err, ErrLogin) {
		t.Error("cancellation must not look like a camera failure")
	}
}

func TestHTTPClient_StreamCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=myboundary")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "--myboundary\r\nContent-Type: text/plain\r\n\r\nCode=VideoMotion;action=Start;index=%d\r\n", i)
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv, testPass)
	client.timeout = 30 * time.Millisecond

	body, err := client.StreamCommand(context.Background(), "eventManager.cgi?action=attach&codes=[All]")
	if err != nil {
		t.Fatalf("StreamCommand() error = %v", err)
	}
	defer body.Close()

	// Reading outlives the setup timeout.
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if got := strings.Count(string(data), "Code=VideoMotion"); got != 3 {
		t.Errorf("events read = %d, want 3", got)
	}
}

func TestHTTPClient_StreamSetupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, testPass)
	_, err := client.StreamCommand(context.Background(), "eventManager.cgi?action=attach&codes=[All]")

	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("error = %v, want 503 DeviceError", err)
	}
}

func TestNewHTTPClient_Defaults(t *testing.T) {
	tests := []struct {
		name        string
		cfg         HTTPClientConfig
		wantBase    string
		wantTimeout time.Duration
		wantRetries int
	}{
		{
			name:        "defaults",
			cfg:         HTTPClientConfig{Host: "10.0.0.5", Port: 80},
			wantBase:    "http://10.0.0.5:80",
			wantTimeout: CommTimeout,
			wantRetries: CommRetries,
		},
		{
			name:        "https without retries",
			cfg:         HTTPClientConfig{Host: "cam.local", Port: 443, Scheme: "https", Retries: -1, Timeout: time.Second},
			wantBase:    "https://cam.local:443",
			wantTimeout: time.Second,
			wantRetries: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewHTTPClient(tt.cfg)
			if c.baseURL != tt.wantBase {
				t.Errorf("baseURL = %q, want %q", c.baseURL, tt.wantBase)
			}
			if c.timeout != tt.wantTimeout {
				t.Errorf("timeout = %v, want %v", c.timeout, tt.wantTimeout)
			}
			if c.retries != tt.wantRetries {
				t.Errorf("retries = %d, want %d", c.retries, tt.wantRetries)
			}
		})
	}
}
