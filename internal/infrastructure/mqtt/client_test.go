package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-camera-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func newUnconnectedClient() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestPublish_Validation(t *testing.T) {
	c := newUnconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "graylogic/test", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "graylogic/test", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "graylogic/test", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_MarshalError(t *testing.T) {
	c := newUnconnectedClient()

	err := c.PublishJSON("graylogic/test", func() {}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want %v", err, ErrPublishFailed)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newUnconnectedClient()
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want %v", err, ErrInvalidTopic)
	}
	if err := c.Subscribe("graylogic/#", 5, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) error = %v, want %v", err, ErrInvalidQoS)
	}
	if err := c.Subscribe("graylogic/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want %v", err, ErrSubscribeFailed)
	}
	if err := c.Subscribe("graylogic/#", 1, handler); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(disconnected) error = %v, want %v", err, ErrNotConnected)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribe_Validation(t *testing.T) {
	c := newUnconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) error = %v, want %v", err, ErrInvalidTopic)
	}
	if err := c.Unsubscribe("graylogic/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe(disconnected) error = %v, want %v", err, ErrNotConnected)
	}
}

func TestHealthCheck(t *testing.T) {
	c := newUnconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want %v", err, ErrNotConnected)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want %v", err, context.Canceled)
	}
}

func TestClose_NeverConnected(t *testing.T) {
	c := newUnconnectedClient()
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCallbacks(t *testing.T) {
	c := newUnconnectedClient()

	var lost error
	c.SetOnDisconnect(func(err error) { lost = err })
	c.setConnected(true)

	want := errors.New("network down")
	c.handleDisconnect(want)

	if lost != want {
		t.Errorf("onDisconnect got %v, want %v", lost, want)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestWrapHandler_PanicRecovery(t *testing.T) {
	c := newUnconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, &fakeMessage{topic: "graylogic/command/amcrest/goto_preset"})

	if len(logger.errors) != 1 {
		t.Fatalf("logged errors = %d, want 1", len(logger.errors))
	}
}

func TestWrapHandler_ErrorLogged(t *testing.T) {
	c := newUnconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	wrapped := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("bad payload")
	})
	wrapped(nil, &fakeMessage{topic: "graylogic/command/amcrest/ptz_control", payload: []byte(`{}`)})

	if gotTopic != "graylogic/command/amcrest/ptz_control" {
		t.Errorf("topic = %q", gotTopic)
	}
	if string(gotPayload) != "{}" {
		t.Errorf("payload = %q", gotPayload)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged warnings = %d, want 1", len(logger.warns))
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "graylogic-camera-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" {
		t.Errorf("Username = %q, want bridge", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without TLS enabled")
	}
	if opts.Order {
		t.Error("Order = true, want concurrent handlers")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLSConfig missing or below minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic-camera-test")

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != (Topics{}).SystemStatus() {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("WillRetained = false, want true")
	}
	var will map[string]string
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("WillPayload invalid JSON: %v", err)
	}
	if will["status"] != "offline" || will["reason"] != reasonUnexpectedDisconnect || will["component"] != "amcrest" {
		t.Errorf("WillPayload = %s", opts.WillPayload)
	}
}

func TestStatusPayloads(t *testing.T) {
	for name, raw := range map[string]string{
		"online":  buildOnlinePayload(`cam"bridge`),
		"offline": buildOfflinePayload(`cam"bridge`, reasonGracefulShutdown),
	} {
		t.Run(name, func(t *testing.T) {
			var p map[string]string
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if p["status"] != name {
				t.Errorf("status = %q, want %q", p["status"], name)
			}
			if p["client_id"] != `cam"bridge` {
				t.Errorf("client_id = %q", p["client_id"])
			}
			if _, err := time.Parse(time.RFC3339, p["timestamp"]); err != nil {
				t.Errorf("timestamp %q not RFC3339", p["timestamp"])
			}
		})
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		got  string
		want string
	}{
		{topics.CameraState("front-door_motion_detected"), "graylogic/state/amcrest/front-door_motion_detected"},
		{topics.CameraAvailability("front-door"), "graylogic/availability/amcrest/front-door"},
		{topics.CameraEvent("front-door"), "graylogic/event/amcrest/front-door"},
		{topics.ServiceCommand("goto_preset"), "graylogic/command/amcrest/goto_preset"},
		{topics.ServiceAck("goto_preset"), "graylogic/ack/amcrest/goto_preset"},
		{topics.BridgeHealth(), "graylogic/health/amcrest"},
		{topics.AllServiceCommands(), "graylogic/command/amcrest/+"},
		{topics.AllCameraEvents(), "graylogic/event/amcrest/+"},
		{topics.SystemStatus(), "graylogic/system/status"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}
