// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sensorsend/internal/session"
)

// Transport delivers one encoded payload. Implementations must be safe for
// concurrent use; the dispatcher calls Send from several workers.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// UDPTransport sends each payload as one datagram to the session endpoint.
// The endpoint host is resolved on every send so address changes take effect
// immediately.
type UDPTransport struct {
	sess *session.Session
}

// NewUDPTransport returns a transport writing through the session socket.
func NewUDPTransport(sess *session.Session) *UDPTransport {
	return &UDPTransport{sess: sess}
}

func (t *UDPTransport) Send(_ context.Context, payload []byte) error {
	ep := t.sess.Endpoint()
	if ep.Host == "" {
		return errors.New("udp: no endpoint host")
	}

	addr, err := net.ResolveUDPAddr("udp", ep.Addr())
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", ep.Addr(), err)
	}
	return t.sess.WriteTo(payload, addr)
}

// MQTTTransport mirrors payloads to an MQTT topic.
type MQTTTransport struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTTransport publishes on topic with QoS 0, not retained.
func NewMQTTTransport(client mqtt.Client, topic string) *MQTTTransport {
	return &MQTTTransport{client: client, topic: topic, timeout: 2 * time.Second}
}

func (t *MQTTTransport) Send(_ context.Context, payload []byte) error {
	token := t.client.Publish(t.topic, 0, false, payload)
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", t.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish to %s: %w", t.topic, err)
	}
	return nil
}

// Multi sends to every transport and joins their errors. A failure on one
// transport does not skip the others.
type Multi []Transport

func (m Multi) Send(ctx context.Context, payload []byte) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
