package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/sensorsend/internal/config"
	"github.com/relabs-tech/sensorsend/internal/dispatch"
	"github.com/relabs-tech/sensorsend/internal/orientation"
	"github.com/relabs-tech/sensorsend/internal/receiver"
	"github.com/relabs-tech/sensorsend/internal/sample"
)

// Receiver is the listening side: it prints, serves and republishes every
// sample that arrives.
type Receiver struct {
	cfg        *config.Config
	logger     *zap.Logger
	listener   *receiver.Listener
	latest     *receiver.Latest
	hub        *receiver.Hub
	forwarders []*receiver.Forwarder
	closers    []func()

	sendersMu sync.Mutex
	senders   map[string]*senderState

	consoleMu sync.Mutex
	console   io.Writer
}

// senderState is what the receiver remembers about one sending address.
type senderState struct {
	agg  *sample.Aggregator // merges per-channel records
	pose orientation.Pose
	at   time.Time
}

const (
	// poseAlpha weights the integrated gyro against the gravity tilt.
	poseAlpha = 0.98
	// maxPoseGap is the longest pause integrated across; after a longer
	// silence the pose restarts from the gravity tilt and keeps its yaw.
	maxPoseGap = time.Second
)

// NewReceiver binds the listener and connects the configured republishers.
// console may be nil to disable printing.
func NewReceiver(cfg *config.Config, console io.Writer, logger *zap.Logger) (*Receiver, error) {
	logger = logger.Named("receiver")

	l, err := receiver.Listen(cfg.ReceiverListen, logger)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		cfg:      cfg,
		logger:   logger,
		listener: l,
		latest:   &receiver.Latest{},
		hub:      receiver.NewHub(logger),
		senders:  make(map[string]*senderState),
		console:  console,
		closers:  []func(){func() { l.Close() }},
	}

	if cfg.MQTTBroker != "" {
		client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDReceiver, logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, func() { client.Disconnect(250) })
		r.addForwarder("mqtt", mqttRepublisher(client, cfg.TopicSamples))
	}

	if cfg.AMQPURL != "" {
		amqpTr, err := receiver.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			r.Close()
			return nil, err
		}
		logger.Info("connected to RabbitMQ", zap.String("exchange", cfg.AMQPExchange))
		r.closers = append(r.closers, func() { amqpTr.Close() })
		r.addForwarder("amqp", amqpTr)
	}

	return r, nil
}

func mqttRepublisher(client mqtt.Client, topic string) dispatch.Transport {
	return dispatch.NewMQTTTransport(client, topic+"/received")
}

func (r *Receiver) addForwarder(name string, t dispatch.Transport) {
	r.forwarders = append(r.forwarders, receiver.NewForwarder(name, t, 256, r.logger))
}

// Addr is the bound UDP address.
func (r *Receiver) Addr() *net.UDPAddr { return r.listener.Addr() }

// Routes serves the latest sample, the live stream and the listener stats.
func (r *Receiver) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/sample", r.latest)
	mux.Handle("GET /ws", r.hub)
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.listener.Stats())
	})
	return mux
}

// handle is called by the listener for every decoded sample.
func (r *Receiver) handle(s sample.Sample, from *net.UDPAddr) {
	r.handleAt(s, from, time.Now())
}

// track merges a per-channel record into the sender's last-known sample and
// integrates the sender's pose up to now.
func (r *Receiver) track(sender string, s sample.Sample, now time.Time) (sample.Sample, orientation.Pose) {
	r.sendersMu.Lock()
	defer r.sendersMu.Unlock()

	st, ok := r.senders[sender]
	if !ok {
		st = &senderState{agg: sample.NewAggregator()}
		r.senders[sender] = st
	}

	if v, partial := s.Vector(s.Channel); partial {
		s, _ = st.agg.OnRawEvent(s.Channel, v)
	} else {
		// A fused sample refreshes both channels for later records.
		st.agg.OnRawEvent(sample.Gravity, s.Gravity())
		st.agg.OnRawEvent(sample.Gyroscope, s.Gyro())
	}

	var dt float64
	if ok {
		if gap := now.Sub(st.at); gap > 0 && gap <= maxPoseGap {
			dt = gap.Seconds()
		}
	}
	st.pose = orientation.Integrate(st.pose, s, dt, poseAlpha)
	st.at = now
	return s, st.pose
}

func (r *Receiver) handleAt(s sample.Sample, from *net.UDPAddr, now time.Time) {
	sender := from.String()
	s, pose := r.track(sender, s, now)

	r.latest.Set(receiver.Snapshot{Sample: s, Pose: pose, From: sender, ReceivedAt: now})
	r.hub.Publish(receiver.Message{Sample: s, Pose: pose, From: sender})
	for _, f := range r.forwarders {
		f.Offer(s)
	}

	if r.console != nil {
		r.consoleMu.Lock()
		fmt.Fprintf(r.console,
			"[%s] grav=(%7.3f %7.3f %7.3f) gyro=(%7.3f %7.3f %7.3f)  ROLL=%6.2f  PITCH=%6.2f  YAW=%7.2f\n",
			sender, s.GravityX, s.GravityY, s.GravityZ, s.GyroX, s.GyroY, s.GyroZ, pose.Roll, pose.Pitch, pose.Yaw)
		r.consoleMu.Unlock()
	}
}

// Run listens until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.hub.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.listener.Serve(gctx, r.handle) })

	for _, f := range r.forwarders {
		f := f
		g.Go(func() error { return f.Run(gctx) })
	}

	if r.cfg.WebServerPort > 0 {
		addr := ":" + strconv.Itoa(r.cfg.WebServerPort)
		g.Go(func() error { return serveHTTP(gctx, addr, r.Routes(), r.logger) })
	}

	if r.cfg.StatsInterval > 0 {
		g.Go(func() error {
			r.reportStats(gctx, time.Duration(r.cfg.StatsInterval)*time.Second)
			return nil
		})
	}

	return g.Wait()
}

func (r *Receiver) reportStats(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logStats()
		}
	}
}

func (r *Receiver) logStats() {
	st := r.listener.Stats()
	fields := []zap.Field{
		zap.String("datagrams", humanize.Comma(int64(st.Datagrams))),
		zap.String("samples", humanize.Comma(int64(st.Samples))),
		zap.String("received", humanize.Bytes(st.Bytes)),
		zap.Uint64("decode_errors", st.Errors),
		zap.Int("ws_clients", r.hub.Clients()),
		zap.Uint64("ws_dropped", r.hub.Dropped()),
	}
	for _, f := range r.forwarders {
		fwd, failed, dropped := f.Counts()
		fields = append(fields, zap.Dict(f.Name(),
			zap.Uint64("forwarded", fwd),
			zap.Uint64("failed", failed),
			zap.Uint64("dropped", dropped)))
	}
	r.logger.Info("receiver stats", fields...)
}

// Close releases the socket and the broker connections.
func (r *Receiver) Close() {
	for _, c := range r.closers {
		c()
	}
}

// RunReceiver binds cfg.ReceiverListen and runs the receiver until ctx is
// cancelled, printing samples to console.
func RunReceiver(ctx context.Context, cfg *config.Config, console io.Writer, logger *zap.Logger) error {
	r, err := NewReceiver(cfg, console, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Run(ctx)
}
