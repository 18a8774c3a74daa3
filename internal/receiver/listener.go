// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package receiver is the listening end of the sample stream. It decodes
// datagrams from a sender and fans the samples out to local consumers.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/sample"
	"github.com/relabs-tech/sensorsend/internal/wire"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// Stats counts traffic seen by a Listener.
type Stats struct {
	Datagrams uint64 `json:"datagrams"`
	Bytes     uint64 `json:"bytes"`
	Samples   uint64 `json:"samples"`
	Errors    uint64 `json:"errors"`
}

// Handler receives every decoded sample together with the sender address.
type Handler func(s sample.Sample, from *net.UDPAddr)

// Listener reads sample datagrams from a UDP socket.
type Listener struct {
	conn   *net.UDPConn
	logger *zap.Logger

	datagrams atomic.Uint64
	bytes     atomic.Uint64
	samples   atomic.Uint64
	errors    atomic.Uint64
}

// Listen binds addr ("host:port", ":1593").
func Listen(addr string, logger *zap.Logger) (*Listener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Listener{conn: conn, logger: logger.Named("listener")}, nil
}

// Addr is the bound local address.
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Serve reads until ctx is done, calling h for every sample in every valid
// datagram. Malformed datagrams are counted, logged and skipped. The socket
// is closed when Serve returns.
func (l *Listener) Serve(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer func() {
		if stop() {
			l.conn.Close()
		}
	}()

	l.logger.Info("listening for samples", zap.String("addr", l.Addr().String()))

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}

		l.datagrams.Add(1)
		l.bytes.Add(uint64(n))

		samples, err := wire.DecodeDatagram(buf[:n])
		if err != nil {
			l.errors.Add(1)
			l.logger.Warn("dropping malformed datagram",
				zap.Stringer("from", from),
				zap.Int("bytes", n),
				zap.Error(err))
			continue
		}

		l.samples.Add(uint64(len(samples)))
		for _, s := range samples {
			h(s, from)
		}
	}
}

// Stats returns a snapshot of the counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Datagrams: l.datagrams.Load(),
		Bytes:     l.bytes.Load(),
		Samples:   l.samples.Load(),
		Errors:    l.errors.Load(),
	}
}

// Close closes the socket, ending Serve.
func (l *Listener) Close() error {
	return l.conn.Close()
}
