package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/sensorsend/internal/config"
	"github.com/relabs-tech/sensorsend/internal/dispatch"
	"github.com/relabs-tech/sensorsend/internal/display"
	"github.com/relabs-tech/sensorsend/internal/sample"
	"github.com/relabs-tech/sensorsend/internal/sensors"
	"github.com/relabs-tech/sensorsend/internal/session"
	"github.com/relabs-tech/sensorsend/internal/wire"
)

// Producer is the sending side: source, aggregator, dispatcher and the
// control surfaces that connect and disconnect the session.
type Producer struct {
	cfg        *config.Config
	logger     *zap.Logger
	source     sensors.Source
	sess       *session.Session
	aggregator *sample.Aggregator
	dispatcher *dispatch.Dispatcher
	controller *Controller
	mqttClient mqtt.Client

	lastMu   sync.Mutex
	last     sample.Sample
	haveLast bool
}

// NewProducer wires a producer for cfg around source. It connects to the
// MQTT broker when one is configured but starts nothing.
func NewProducer(cfg *config.Config, source sensors.Source, logger *zap.Logger) (*Producer, error) {
	codec, err := wire.CodecFor(cfg.WireFormat)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		cfg:        cfg,
		logger:     logger.Named("producer"),
		source:     source,
		sess:       session.New(session.WithPort(cfg.TargetPort)),
		aggregator: sample.NewAggregator(),
	}

	var transport dispatch.Transport = dispatch.NewUDPTransport(p.sess)
	if cfg.MQTTBroker != "" {
		p.mqttClient, err = connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer, p.logger)
		if err != nil {
			return nil, err
		}
		transport = dispatch.Multi{transport, dispatch.NewMQTTTransport(p.mqttClient, cfg.TopicSamples)}
	}

	opts := []dispatch.Option{
		dispatch.WithWorkers(cfg.DispatchWorkers),
		dispatch.WithQueueSize(cfg.DispatchQueueSize),
		dispatch.WithCodec(codec),
		dispatch.WithLogger(logger),
	}
	if cfg.BatchSize > 1 {
		opts = append(opts, dispatch.WithBatch(cfg.BatchSize, time.Duration(cfg.BatchTimeoutMS)*time.Millisecond))
	}
	p.dispatcher = dispatch.New(p.sess, transport, opts...)
	p.controller = NewController(p.sess, p.dispatcher, logger)

	if cfg.TargetHost != "" {
		if err := p.controller.Connect(cfg.TargetHost); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Producer) Controller() *Controller { return p.controller }

// OnEvent feeds one raw event through the aggregator to the dispatcher.
func (p *Producer) OnEvent(ev sensors.Event) {
	s, ok := p.aggregator.OnRawEvent(ev.Channel, ev.Vector)
	if !ok {
		return
	}
	p.dispatcher.Send(s)

	p.lastMu.Lock()
	p.last, p.haveLast = s, true
	p.lastMu.Unlock()
}

// DisplayStatus is the snapshot drawn on the status panel.
func (p *Producer) DisplayStatus() display.Status {
	p.lastMu.Lock()
	last, have := p.last, p.haveLast
	p.lastMu.Unlock()

	state := p.sess.State()
	stats := p.dispatcher.Stats()
	return display.Status{
		Connected:  state.Connected,
		Endpoint:   state.Endpoint.Addr(),
		Sample:     last,
		HaveSample: have,
		Sent:       stats.Sent,
		Dropped:    stats.Dropped,
	}
}

// Run samples until ctx is done or the source fails. In-flight sends are
// drained before it returns.
func (p *Producer) Run(ctx context.Context) error {
	p.dispatcher.Start(ctx)
	defer p.dispatcher.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := p.source.Run(gctx, p.OnEvent)
		if err == nil && gctx.Err() == nil {
			err = errors.New("sensor source stopped")
		}
		return err
	})

	if p.mqttClient != nil && p.cfg.TopicControl != "" {
		if err := p.controller.SubscribeMQTT(p.mqttClient, p.cfg.TopicControl); err != nil {
			p.logger.Warn("control topic unavailable", zap.Error(err))
		}
	}

	if p.cfg.ControlListen != "" {
		g.Go(func() error {
			return serveHTTP(gctx, p.cfg.ControlListen, p.controller.Routes(), p.logger)
		})
	}

	if p.cfg.DisplayEnabled {
		panel, err := display.Open(p.logger)
		if err != nil {
			p.logger.Warn("status display unavailable", zap.Error(err))
		} else {
			defer panel.Close()
			every := time.Duration(p.cfg.DisplayUpdateInterval) * time.Millisecond
			g.Go(func() error { return panel.Run(gctx, every, p.DisplayStatus) })
		}
	}

	p.logger.Info("producer running",
		zap.String("source", p.cfg.SensorSource),
		zap.Bool("connected", p.sess.Connected()),
		zap.String("endpoint", p.sess.Endpoint().Addr()))

	return g.Wait()
}

// Close releases the socket and the broker connection.
func (p *Producer) Close() {
	if p.mqttClient != nil {
		p.mqttClient.Disconnect(250)
	}
	p.sess.Close()
}

// RunProducer builds the configured source and producer and runs them until
// ctx is cancelled.
func RunProducer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	source, err := NewSource(cfg, logger)
	if err != nil {
		return fmt.Errorf("sensor source: %w", err)
	}

	p, err := NewProducer(cfg, source, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	return p.Run(ctx)
}
