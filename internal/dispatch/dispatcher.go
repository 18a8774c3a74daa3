// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package dispatch moves fused samples off the sampling path and onto the
// network. Send never blocks: samples are queued for a small pool of
// workers that encode them and hand the payload to a Transport.
//
// Delivery is best effort. Transport errors are logged and dropped, never
// retried, and never reported back to the caller of Send.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/sample"
	"github.com/relabs-tech/sensorsend/internal/session"
	"github.com/relabs-tech/sensorsend/internal/wire"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 1024
)

// Stats counts what happened to samples handed to Send.
type Stats struct {
	Accepted   uint64 `json:"accepted"`   // samples queued for sending
	Suppressed uint64 `json:"suppressed"` // samples ignored while disconnected
	Dropped    uint64 `json:"dropped"`    // samples lost to a full queue
	Sent       uint64 `json:"sent"`       // datagrams delivered to the transport
	Failed     uint64 `json:"failed"`     // datagrams the transport rejected
}

// Dispatcher sends samples for one session.
type Dispatcher struct {
	sess      *session.Session
	transport Transport
	codec     wire.Codec
	logger    *zap.Logger

	workers      int
	queue        chan []sample.Sample
	batchIn      chan pending // nil unless batching
	batchSize    int
	batchTimeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool

	workerWG sync.WaitGroup
	batchWG  sync.WaitGroup

	accepted   atomic.Uint64
	suppressed atomic.Uint64
	dropped    atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64
}

// pending is a sample waiting for its batch, tagged with the session
// generation it was accepted under.
type pending struct {
	s   sample.Sample
	gen uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent send workers.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets how many pending sends may wait for a worker.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan []sample.Sample, n)
		}
	}
}

// WithCodec selects the payload encoding. Default is wire.TextCodec.
func WithCodec(c wire.Codec) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.codec = c
		}
	}
}

// WithLogger sets the logger used for send failures.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithBatch groups up to size samples into one gzip datagram, flushed when
// full or after timeout. size <= 1 disables batching.
func WithBatch(size int, timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if size > 1 && timeout > 0 {
			d.batchSize = size
			d.batchTimeout = timeout
		}
	}
}

// New returns a Dispatcher for sess writing through transport. Call Start
// before samples are expected to leave the process.
func New(sess *session.Session, transport Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sess:      sess,
		transport: transport,
		codec:     wire.TextCodec{},
		logger:    zap.NewNop(),
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queue == nil {
		d.queue = make(chan []sample.Sample, DefaultQueueSize)
	}
	if d.batchSize > 1 {
		d.batchIn = make(chan pending, cap(d.queue))
	}
	d.logger = d.logger.Named("dispatch")
	return d
}

// Start launches the workers. The context is passed to every transport call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.workerWG.Add(1)
		go d.worker(ctx)
	}
	if d.batchIn != nil {
		d.batchWG.Add(1)
		go d.batchLoop()
	}

	d.logger.Info("dispatcher started",
		zap.Int("workers", d.workers),
		zap.Int("queue_size", cap(d.queue)),
		zap.Int("batch_size", d.batchSize),
		zap.String("codec", d.codec.Name()))
}

// Send hands s to the workers and returns immediately. It does nothing while
// the session is disconnected or after Stop.
func (d *Dispatcher) Send(s sample.Sample) {
	gen, connected := d.sess.Generation()
	if !connected {
		d.suppressed.Add(1)
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return
	}

	if d.batchIn != nil {
		select {
		case d.batchIn <- pending{s: s, gen: gen}:
		default:
			d.drop(1)
		}
		return
	}

	select {
	case d.queue <- []sample.Sample{s}:
		d.accepted.Add(1)
	default:
		d.drop(1)
	}
}

// Stop refuses new samples, flushes any pending batch and waits for the
// queued sends to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if d.batchIn != nil {
		close(d.batchIn)
	}
	started := d.started
	d.mu.Unlock()

	if started {
		d.batchWG.Wait()
	}
	close(d.queue)
	d.workerWG.Wait()

	st := d.Stats()
	d.logger.Info("dispatcher stopped",
		zap.Uint64("accepted", st.Accepted),
		zap.Uint64("sent", st.Sent),
		zap.Uint64("failed", st.Failed),
		zap.Uint64("dropped", st.Dropped),
		zap.Uint64("suppressed", st.Suppressed))
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted:   d.accepted.Load(),
		Suppressed: d.suppressed.Load(),
		Dropped:    d.dropped.Load(),
		Sent:       d.sent.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) drop(n int) {
	d.dropped.Add(uint64(n))
	d.logger.Debug("send queue full, dropping", zap.Int("samples", n))
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.workerWG.Done()
	for samples := range d.queue {
		d.deliver(ctx, samples)
	}
}

// deliver encodes and sends one payload. Nothing escapes: errors and panics
// from the codec or transport are logged and counted.
func (d *Dispatcher) deliver(ctx context.Context, samples []sample.Sample) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("send panicked", zap.Any("panic", r))
		}
	}()

	payload, err := d.encode(samples)
	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("encode failed", zap.Int("samples", len(samples)), zap.Error(err))
		return
	}

	if err := d.transport.Send(ctx, payload); err != nil {
		d.failed.Add(1)
		d.logger.Warn("send failed",
			zap.String("endpoint", d.sess.Endpoint().Addr()),
			zap.Int("samples", len(samples)),
			zap.Error(err))
		return
	}

	d.sent.Add(1)
	d.logger.Debug("sent", zap.Int("samples", len(samples)), zap.Int("bytes", len(payload)))
}

func (d *Dispatcher) encode(samples []sample.Sample) ([]byte, error) {
	if d.batchIn != nil {
		return wire.EncodeBatch(d.codec, samples)
	}
	if len(samples) != 1 {
		return nil, fmt.Errorf("expected one sample, got %d", len(samples))
	}
	return d.codec.Encode(samples[0])
}

// batchLoop collects samples and flushes them on size or timeout. A batch
// belongs to the session generation of its first sample: if the session has
// disconnected or reconnected since, the batch is discarded and counted as
// suppressed instead of being sent to the new endpoint.
func (d *Dispatcher) batchLoop() {
	defer d.batchWG.Done()

	buf := make([]sample.Sample, 0, d.batchSize)
	var bufGen uint64
	timer := time.NewTimer(d.batchTimeout)
	defer timer.Stop()

	discard := func() {
		d.suppressed.Add(uint64(len(buf)))
		d.logger.Debug("discarding batch from previous session", zap.Int("samples", len(buf)))
		buf = make([]sample.Sample, 0, d.batchSize)
	}

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if gen, connected := d.sess.Generation(); !connected || gen != bufGen {
			discard()
			return
		}
		select {
		case d.queue <- buf:
			d.accepted.Add(uint64(len(buf)))
		default:
			d.drop(len(buf))
		}
		buf = make([]sample.Sample, 0, d.batchSize)
	}

	for {
		select {
		case p, ok := <-d.batchIn:
			if !ok {
				flush()
				return
			}
			if len(buf) > 0 && p.gen != bufGen {
				discard()
			}
			if len(buf) == 0 {
				bufGen = p.gen
			}
			buf = append(buf, p.s)
			if len(buf) >= d.batchSize {
				flush()
				timer.Reset(d.batchTimeout)
			}

		case <-timer.C:
			flush()
			timer.Reset(d.batchTimeout)
		}
	}
}
