package amcrest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// fakeAPI is a scriptable API. Replies are looked up by command prefix.
type fakeAPI struct {
	mu      sync.Mutex
	err     error
	errs    []error
	replies map[string]string
	calls   []string
	stream  func(ctx context.Context) (io.ReadCloser, error)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{replies: map[string]string{}}
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// queue makes the next len(errs) commands return errs in order.
func (f *fakeAPI) queue(errs ...error) {
	f.mu.Lock()
	f.errs = append(f.errs, errs...)
	f.mu.Unlock()
}

func (f *fakeAPI) reply(prefix, body string) {
	f.mu.Lock()
	f.replies[prefix] = body
	f.mu.Unlock()
}

func (f *fakeAPI) Command(ctx context.Context, cmd string) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, cmd)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err := f.err
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return nil, err
	}

	body := "OK"
	best := -1
	for prefix, reply := range f.replies {
		if strings.HasPrefix(cmd, prefix) && len(prefix) > best {
			body, best = reply, len(prefix)
		}
	}
	return &Response{StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeAPI) StreamCommand(ctx context.Context, cmd string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	stream := f.stream
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if stream == nil {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return stream(ctx)
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) countCalls(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func deviceErr() error { return &DeviceError{Camera: "cam", Command: "test", Err: io.ErrUnexpectedEOF} }
func loginErr() error  { return &LoginError{Camera: "cam"} }

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level, msg, args})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func (l *recordingLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}

type sentSignal struct {
	signal string
	args   []any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentSignal
}

func (n *recordingNotifier) Send(_ context.Context, signal string, args ...any) error {
	n.mu.Lock()
	n.sent = append(n.sent, sentSignal{signal, args})
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Sent() []sentSignal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentSignal(nil), n.sent...)
}

type transition struct {
	camera    string
	available bool
	reason    string
	errors    int
}

type recordingObserver struct {
	mu          sync.Mutex
	commands    []string
	errorCounts []int
	transitions []transition
	events      []string
}

func (o *recordingObserver) CommandCompleted(_, command string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, fmt.Sprintf("%s:%v", command, err == nil))
}

func (o *recordingObserver) ErrorCountChanged(_ string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errorCounts = append(o.errorCounts, count)
}

func (o *recordingObserver) AvailabilityChanged(camera string, available bool, reason string, errorCount int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, transition{camera, available, reason, errorCount})
}

func (o *recordingObserver) EventReceived(camera, code string, start bool, _ map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("%s:%s:%v", camera, code, start))
}

func (o *recordingObserver) Transitions() []transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]transition(nil), o.transitions...)
}

// recordingPublisher captures MQTT publishes.
type published struct {
	topic    string
	payload  []byte
	retained bool
}

type recordingPublisher struct {
	mu        sync.Mutex
	messages  []published
	connected bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{connected: true}
}

func (p *recordingPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{topic, append([]byte(nil), payload...), retained})
	return nil
}

func (p *recordingPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *recordingPublisher) on(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPublisher) last(topic string) (published, bool) {
	msgs := p.on(topic)
	if len(msgs) == 0 {
		return published{}, false
	}
	return msgs[len(msgs)-1], true
}

// eventually polls cond until it holds or the timeout passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
