package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// fakeToken completes immediately, or never when timedOut is set.
type fakeToken struct {
	timedOut bool
	err      error
}

func (t *fakeToken) Wait() bool                     { return !t.timedOut }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Error() error                   { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.timedOut {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods the transport does not use fall
// through to the nil embedded interface.
type fakeClient struct {
	mqtt.Client

	mu    sync.Mutex
	msgs  []published
	token *fakeToken
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return &fakeToken{}
}

func TestMQTTTransportPublishes(t *testing.T) {
	client := &fakeClient{}
	tr := NewMQTTTransport(client, "sensors/samples")

	if err := tr.Send(context.Background(), []byte("SensorData(...)")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(client.msgs))
	}
	got := client.msgs[0]
	if got.topic != "sensors/samples" || got.qos != 0 || got.retained {
		t.Errorf("publish = %+v, want QoS 0 not retained on sensors/samples", got)
	}
	if string(got.payload) != "SensorData(...)" {
		t.Errorf("payload = %q", got.payload)
	}
}

func TestMQTTTransportErrors(t *testing.T) {
	tests := map[string]struct {
		token *fakeToken
		want  string
	}{
		"timeout":       {&fakeToken{timedOut: true}, "timed out"},
		"broker refuse": {&fakeToken{err: errors.New("not authorized")}, "not authorized"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tr := NewMQTTTransport(&fakeClient{token: tt.token}, "sensors/samples")
			err := tr.Send(context.Background(), []byte("p"))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Send() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestMQTTTransportFailureCountedByDispatcher(t *testing.T) {
	client := &fakeClient{token: &fakeToken{timedOut: true}}
	d := New(connectedSession(t), NewMQTTTransport(client, "sensors/samples"))
	d.Start(context.Background())
	d.Send(sample.Sample{GravityZ: 9.8})
	d.Stop()

	if st := d.Stats(); st.Failed != 1 || st.Sent != 0 {
		t.Errorf("stats = %+v, want 1 failed", st)
	}
}
