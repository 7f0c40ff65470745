package amcrest

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// Health monitor thresholds.
const (
	// MaxErrors is the number of consecutive device errors a camera may
	// accumulate while still reported available. The next one flips it.
	MaxErrors = 5

	// RecheckInterval is how often an unavailable camera is probed.
	RecheckInterval = time.Minute
)

// Availability change reasons passed to observers.
const (
	ReasonBackOnline   = "back online"
	ReasonLoginFailed  = "login failed"
	ReasonTooManyError = "too many errors"
)

// Logger is the logging interface used throughout the package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Notifier delivers availability changes to the rest of the bridge.
// *Dispatcher implements it.
type Notifier interface {
	Send(ctx context.Context, signal string, args ...any) error
}

// CheckerOptions configures a Checker.
type CheckerOptions struct {
	// Name identifies the camera. Required.
	Name string

	// API performs the actual commands. Required.
	API API

	// Notifier receives ServiceSignal("update", Name) with the new
	// availability on every transition. Optional.
	Notifier Notifier

	// Observer receives command and availability telemetry. Optional.
	Observer Observer

	// Logger for transition messages. Optional.
	Logger Logger

	// RecheckInterval overrides RecheckInterval (tests).
	RecheckInterval time.Duration
}

// Checker sits between the bridge and a camera API, tracking consecutive
// failures so callers can tell whether the camera is usable.
//
// A camera is available while it has at most MaxErrors consecutive device
// errors and its last authentication attempt did not fail. While it is
// unavailable a background task probes it every RecheckInterval; any
// successful command, probe or not, restores availability.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Checker struct {
	name            string
	api             API
	notifier        Notifier
	observer        Observer
	logger          Logger
	recheckInterval time.Duration

	// mu guards everything below. gate is closed exactly while the camera
	// is available; recheckCancel is non-nil exactly while it is not.
	mu            sync.Mutex
	errorCount    int
	loginFailed   bool
	gate          chan struct{}
	recheckCancel context.CancelFunc
	closed        bool
	edgeSeq       uint64 // availability transitions so far
	countSeq      uint64 // error count changes so far

	// notifyMu serialises observer and notifier delivery. It is never
	// acquired while holding mu. A delivery older than the last one
	// delivered is dropped, so consumers always end on the latest state.
	notifyMu       sync.Mutex
	deliveredEdge  uint64
	deliveredCount uint64

	wg sync.WaitGroup
}

// NewChecker creates a Checker. The camera starts out available.
func NewChecker(opts CheckerOptions) (*Checker, error) {
	if opts.Name == "" {
		return nil, errors.New("amcrest: checker name is required")
	}
	if opts.API == nil {
		return nil, errors.New("amcrest: checker API is required")
	}

	interval := opts.RecheckInterval
	if interval <= 0 {
		interval = RecheckInterval
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	gate := make(chan struct{})
	close(gate)

	return &Checker{
		name:            opts.Name,
		api:             opts.API,
		notifier:        opts.Notifier,
		observer:        observer,
		logger:          opts.Logger,
		recheckInterval: interval,
		gate:            gate,
	}, nil
}

// Name returns the camera name.
func (c *Checker) Name() string { return c.name }

// Execute sends cmd to the camera and updates the health bookkeeping.
// The camera's result or error is returned unchanged.
func (c *Checker) Execute(ctx context.Context, cmd string) (*Response, error) {
	start := time.Now()
	resp, err := c.api.Command(ctx, cmd)
	c.observer.CommandCompleted(c.name, commandName(cmd), time.Since(start), err)
	c.record(err)
	return resp, err
}

// Stream opens a streaming command. Setup failures and read failures both
// count against the camera; reaching the end of the stream does not.
func (c *Checker) Stream(ctx context.Context, cmd string) (io.ReadCloser, error) {
	start := time.Now()
	body, err := c.api.StreamCommand(ctx, cmd)
	c.observer.CommandCompleted(c.name, commandName(cmd), time.Since(start), err)
	c.record(err)
	if err != nil {
		return nil, err
	}
	return &trackedStream{ReadCloser: body, checker: c, ctx: ctx, cmd: cmd}, nil
}

// Available reports whether the camera is currently usable.
func (c *Checker) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableLocked()
}

// ErrorCount returns the number of consecutive device errors.
func (c *Checker) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCount
}

// LoginFailed reports whether the last authentication attempt failed.
func (c *Checker) LoginFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginFailed
}

// WaitAvailable blocks until the camera is available or ctx is done.
// It returns immediately when the camera is already available.
func (c *Checker) WaitAvailable(ctx context.Context) error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the recheck task and waits for it to exit. Commands still
// work afterwards but no new recheck task is started. Safe to call more
// than once.
func (c *Checker) Close() {
	c.mu.Lock()
	c.closed = true
	if c.recheckCancel != nil {
		c.recheckCancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Checker) availableLocked() bool {
	return c.errorCount <= MaxErrors && !c.loginFailed
}

// record applies the outcome of one command. Errors that are neither
// login nor device errors (caller cancellation) leave the state untouched.
func (c *Checker) record(err error) {
	switch {
	case err == nil:
		c.succeeded()
	case errors.Is(err, ErrLogin):
		c.loginFailure(err)
	case errors.Is(err, ErrDevice):
		c.deviceFailure(err)
	}
}

func (c *Checker) succeeded() {
	c.mu.Lock()
	wasOffline := !c.availableLocked()
	c.errorCount = 0
	c.loginFailed = false
	c.countSeq++
	countSeq := c.countSeq
	var edge uint64
	if wasOffline {
		if c.recheckCancel != nil {
			c.recheckCancel()
			c.recheckCancel = nil
		}
		close(c.gate)
		c.edgeSeq++
		edge = c.edgeSeq
	}
	c.mu.Unlock()

	c.countChanged(countSeq, 0)
	if wasOffline {
		c.logError("camera back online")
		c.notify(edge, true, ReasonBackOnline, 0)
	}
}

func (c *Checker) loginFailure(err error) {
	c.mu.Lock()
	wasAvailable := c.availableLocked()
	wasLoginFailed := c.loginFailed
	c.loginFailed = true
	var edge uint64
	if wasAvailable {
		edge = c.goOfflineLocked()
	}
	count := c.errorCount
	c.mu.Unlock()

	c.logDebug("camera login failed", "error", err)
	if !wasLoginFailed {
		c.logError("camera login error", "error", err)
	}
	if wasAvailable {
		c.notify(edge, false, ReasonLoginFailed, count)
	}
}

func (c *Checker) deviceFailure(err error) {
	c.mu.Lock()
	wasAvailable := c.availableLocked()
	c.errorCount++
	count := c.errorCount
	c.countSeq++
	countSeq := c.countSeq
	offline := wasAvailable && !c.availableLocked()
	var edge uint64
	if offline {
		edge = c.goOfflineLocked()
	}
	c.mu.Unlock()

	c.countChanged(countSeq, count)
	c.logDebug("camera command failed", "errors", count, "error", err)
	if offline {
		c.logError("camera offline: too many errors", "errors", count, "error", err)
		c.notify(edge, false, ReasonTooManyError, count)
	}
}

// goOfflineLocked closes the gate, starts the recheck task and returns the
// sequence number of the transition.
// Caller must hold c.mu and have observed the camera as available.
func (c *Checker) goOfflineLocked() uint64 {
	c.gate = make(chan struct{})
	c.edgeSeq++
	edge := c.edgeSeq
	if c.closed {
		return edge
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.recheckCancel = cancel
	c.wg.Add(1)
	go c.recheckLoop(ctx)
	return edge
}

// recheckLoop probes the camera until it answers or ctx is cancelled.
func (c *Checker) recheckLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.recheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//nolint:errcheck // Probe outcome is recorded by Execute
			c.Execute(ctx, cmdCurrentTime)
		}
	}
}

// notify delivers transition edge unless a later one was already delivered.
func (c *Checker) notify(edge uint64, available bool, reason string, errorCount int) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if edge < c.deliveredEdge {
		c.logDebug("dropping stale availability change", "available", available)
		return
	}
	c.deliveredEdge = edge

	c.observer.AvailabilityChanged(c.name, available, reason, errorCount)
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Send(context.Background(), ServiceSignal("update", c.name), available); err != nil {
		c.logWarn("availability handler failed", "error", err)
	}
}

func (c *Checker) countChanged(seq uint64, count int) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if seq < c.deliveredCount {
		return
	}
	c.deliveredCount = seq
	c.observer.ErrorCountChanged(c.name, count)
}

func (c *Checker) logError(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Error(msg, append([]any{"camera", c.name}, keysAndValues...)...)
	}
}

func (c *Checker) logWarn(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, append([]any{"camera", c.name}, keysAndValues...)...)
	}
}

func (c *Checker) logDebug(msg string, keysAndValues ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, append([]any{"camera", c.name}, keysAndValues...)...)
	}
}

// trackedStream counts a failed read against the camera once.
type trackedStream struct {
	io.ReadCloser
	checker *Checker
	ctx     context.Context
	cmd     string
	failed  bool
}

func (s *trackedStream) Read(p []byte) (int, error) {
	n, err := s.ReadCloser.Read(p)
	if err != nil && err != io.EOF && !s.failed && s.ctx.Err() == nil {
		s.failed = true
		s.checker.record(&DeviceError{Camera: s.checker.name, Command: commandName(s.cmd), Err: err})
	}
	return n, err
}
