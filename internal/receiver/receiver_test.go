package receiver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/sample"
	"github.com/relabs-tech/sensorsend/internal/wire"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type collector struct {
	mu      sync.Mutex
	samples []sample.Sample
}

func (c *collector) handle(s sample.Sample, _ *net.UDPAddr) {
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func startListener(t *testing.T) (*Listener, *collector, *net.UDPConn, context.CancelFunc, chan error) {
	t.Helper()
	l, err := Listen("127.0.0.1:0", zap.NewNop())
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	c := &collector{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, c.handle) }()

	out, err := net.DialUDP("udp", nil, l.Addr())
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { out.Close() })
	return l, c, out, cancel, done
}

func TestListenerDecodesDatagrams(t *testing.T) {
	l, c, out, cancel, done := startListener(t)

	text, _ := wire.TextCodec{}.Encode(sample.Sample{GravityZ: 9.8})
	js, _ := wire.JSONCodec{}.Encode(sample.Sample{GyroX: 1})
	batch, err := wire.EncodeBatch(wire.TextCodec{}, []sample.Sample{{GyroY: 1}, {GyroY: 2}, {GyroY: 3}})
	if err != nil {
		t.Fatalf("EncodeBatch() error = %v", err)
	}

	for _, p := range [][]byte{text, []byte("not a sample"), js, batch} {
		if _, err := out.Write(p); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, func() bool { return c.count() == 5 && l.Stats().Errors == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve() error = %v", err)
	}

	st := l.Stats()
	if st.Datagrams != 4 || st.Samples != 5 || st.Errors != 1 {
		t.Errorf("Stats = %+v, want 4 datagrams, 5 samples, 1 error", st)
	}
	wantBytes := uint64(len(text) + len("not a sample") + len(js) + len(batch))
	if st.Bytes != wantBytes {
		t.Errorf("Bytes = %d, want %d", st.Bytes, wantBytes)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples[0].GravityZ != 9.8 || c.samples[1].GyroX != 1 || c.samples[4].GyroY != 3 {
		t.Errorf("samples = %+v", c.samples)
	}
}

func TestListenerSkipsCorruptBatch(t *testing.T) {
	l, c, out, cancel, done := startListener(t)
	defer func() {
		cancel()
		<-done
	}()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("SensorData(gravityX=1.0)\n"))
	zw.Close()

	out.Write(buf.Bytes())
	waitFor(t, func() bool { return l.Stats().Errors == 1 })
	if c.count() != 0 {
		t.Errorf("corrupt batch delivered %d samples", c.count())
	}
}

func TestLatestHandler(t *testing.T) {
	var latest Latest

	rec := httptest.NewRecorder()
	latest.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sample", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status before data = %d, want 503", rec.Code)
	}

	latest.Set(Snapshot{Sample: sample.Sample{GravityZ: 9.8}, From: "10.0.0.2:5000"})
	rec = httptest.NewRecorder()
	latest.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sample", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Sample.GravityZ != 9.8 || got.From != "10.0.0.2:5000" {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestHubStreamsToWebsocket(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return hub.Clients() == 1 })
	hub.Publish(Message{Sample: sample.Sample{GyroZ: 0.5}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Sample.GyroZ != 0.5 {
		t.Errorf("message = %+v, want gyroZ 0.5", msg)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHubPublishWithoutClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Publish(Message{})
	hub.Close()
	hub.Publish(Message{})
	if hub.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", hub.Dropped())
	}
}

type recordingTransport struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (r *recordingTransport) Send(_ context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return r.err
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestForwarder(t *testing.T) {
	tr := &recordingTransport{}
	f := NewForwarder("mqtt", tr, 4, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	f.Offer(sample.Sample{GravityX: 1})
	f.Offer(sample.Sample{GravityX: 2})
	waitFor(t, func() bool { return tr.count() == 2 })
	cancel()
	<-done

	var s sample.Sample
	if err := json.Unmarshal(tr.payloads[1], &s); err != nil || s.GravityX != 2 {
		t.Errorf("payload = %s (%v), want gravityX 2", tr.payloads[1], err)
	}
	if fwd, failed, dropped := f.Counts(); fwd != 2 || failed != 0 || dropped != 0 {
		t.Errorf("Counts = %d/%d/%d, want 2/0/0", fwd, failed, dropped)
	}
}

func TestForwarderDropsWhenFull(t *testing.T) {
	tr := &recordingTransport{err: errors.New("broker down")}
	f := NewForwarder("amqp", tr, 2, zap.NewNop())

	// Not running: the buffer fills and further offers drop.
	for i := 0; i < 5; i++ {
		f.Offer(sample.Sample{})
	}
	if _, _, dropped := f.Counts(); dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	waitFor(t, func() bool { _, failed, _ := f.Counts(); return failed == 2 })
	cancel()
	<-done
}

// fakePublisher records AMQP publishings in place of a broker channel.
type fakePublisher struct {
	mu        sync.Mutex
	exchanges []string
	msgs      []amqp.Publishing
	err       error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges = append(p.exchanges, exchange)
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestAMQPTransportSend(t *testing.T) {
	pub := &fakePublisher{}
	tr := &AMQPTransport{pub: pub, exchange: "sensor.samples"}

	payload := []byte(`{"gravityZ":9.8}`)
	if err := tr.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if pub.exchanges[0] != "sensor.samples" {
		t.Errorf("exchange = %q, want sensor.samples", pub.exchanges[0])
	}
	if msg.ContentType != "application/json" || msg.DeliveryMode != amqp.Transient {
		t.Errorf("publishing = %+v, want transient application/json", msg)
	}
	if string(msg.Body) != string(payload) {
		t.Errorf("body = %s, want %s", msg.Body, payload)
	}

	pub.err = errors.New("channel closed")
	err := tr.Send(context.Background(), payload)
	if err == nil || !strings.Contains(err.Error(), "sensor.samples") {
		t.Errorf("Send() error = %v, want error naming the exchange", err)
	}
}
