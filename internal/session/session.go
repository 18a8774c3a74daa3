// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session holds the state of one streaming session: where samples
// go, whether they should go at all, and the outbound socket they go through.
package session

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
)

// DefaultPort is the UDP port samples are sent to.
const DefaultPort = 1593

// ErrBlankAddress is returned by Connect when the address is empty.
var ErrBlankAddress = errors.New("session: address is blank")

// Endpoint is the destination of outgoing datagrams.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr joins host and port for net.Resolve* calls.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, fmt.Sprint(e.Port))
}

// State is a snapshot of the session for status reporting.
type State struct {
	Connected bool     `json:"connected"`
	Endpoint  Endpoint `json:"endpoint"`
}

// Session owns the endpoint, the connected flag and the single outbound UDP
// socket. It is safe for concurrent use.
type Session struct {
	mu        sync.RWMutex
	host      string
	port      int
	connected bool
	// gen changes on every Connect and Disconnect.
	gen uint64

	// sockMu guards sock and serialises writes on it.
	sockMu sync.Mutex
	sock   *net.UDPConn
}

// Option configures a Session.
type Option func(*Session)

// WithPort overrides DefaultPort.
func WithPort(port int) Option {
	return func(s *Session) {
		s.port = port
	}
}

// New returns a disconnected session with no host.
func New(opts ...Option) *Session {
	s := &Session{port: DefaultPort}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect sets the host and marks the session connected. A blank address is
// rejected with ErrBlankAddress and leaves the session unchanged, whether or
// not it was already connected.
func (s *Session) Connect(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrBlankAddress
	}

	s.mu.Lock()
	s.host = address
	s.connected = true
	s.gen++
	s.mu.Unlock()
	return nil
}

// Disconnect marks the session disconnected. The host is kept for display.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.gen++
	s.mu.Unlock()
}

// Generation returns a counter that changes on every Connect and Disconnect,
// together with the connected flag. Work queued under one generation must
// not be sent under another.
func (s *Session) Generation() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen, s.connected
}

// Connected reports whether samples should be sent.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Endpoint returns the current destination.
func (s *Session) Endpoint() Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Endpoint{Host: s.host, Port: s.port}
}

// State returns a snapshot of connected flag and endpoint.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Connected: s.connected,
		Endpoint:  Endpoint{Host: s.host, Port: s.port},
	}
}

// WriteTo sends payload as one datagram to addr. The socket is opened on the
// first call and reused afterwards.
func (s *Session) WriteTo(payload []byte, addr *net.UDPAddr) error {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()

	if s.sock == nil {
		sock, err := net.ListenUDP("udp", nil)
		if err != nil {
			return fmt.Errorf("open udp socket: %w", err)
		}
		s.sock = sock
	}

	if _, err := s.sock.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("write datagram to %s: %w", addr, err)
	}
	return nil
}

// LocalAddr returns the local address of the outbound socket, or nil before
// the first write.
func (s *Session) LocalAddr() net.Addr {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.sock == nil {
		return nil
	}
	return s.sock.LocalAddr()
}

// Close releases the outbound socket. A later WriteTo opens a new one.
func (s *Session) Close() error {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.sock == nil {
		return nil
	}
	err := s.sock.Close()
	s.sock = nil
	return err
}
