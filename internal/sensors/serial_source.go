// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// SerialSource reads NMEA XDR transducer sentences from a serial port, as
// emitted by a microcontroller wired to a motion sensor:
//
//	$IIXDR,G,0.10,,GRAVX,G,0.20,,GRAVY,G,9.80,,GRAVZ*hh
//	$IIXDR,G,0.01,,GYROX,G,0.00,,GYROY,G,-0.02,,GYROZ*hh
//
// Transducer names are <channel><axis>. Unrecognised channels are passed
// through and left for the aggregator to ignore.
type SerialSource struct {
	opts   serial.OpenOptions
	logger *zap.Logger
}

// NewSerialSource configures an 8N1 serial source.
func NewSerialSource(portName string, baudRate int, logger *zap.Logger) *SerialSource {
	return &SerialSource{
		opts: serial.OpenOptions{
			PortName:              portName,
			BaudRate:              uint(baudRate),
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		},
		logger: logger.Named("serial"),
	}
}

func (s *SerialSource) Run(ctx context.Context, emit func(Event)) error {
	port, err := serial.Open(s.opts)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.opts.PortName, err)
	}
	s.logger.Info("serial port opened",
		zap.String("port", s.opts.PortName),
		zap.Uint("baud", s.opts.BaudRate))

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
	}()

	err = ReadXDR(port, emit, s.logger)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadXDR parses XDR sentences from r until EOF, emitting one event per
// complete channel vector. Other sentences and noisy lines are skipped.
func ReadXDR(r io.Reader, emit func(Event), logger *zap.Logger) error {
	reader := bufio.NewReader(r)

	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "$") {
			sentence, perr := nmea.Parse(line)
			if perr != nil {
				logger.Debug("NMEA parse error", zap.String("line", line), zap.Error(perr))
			} else if x, ok := sentence.(nmea.XDR); ok {
				for _, ev := range EventsFromXDR(x) {
					emit(ev)
				}
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

// EventsFromXDR groups XDR measurements into channel vectors. A channel is
// emitted only when X, Y and Z are all present in the sentence.
func EventsFromXDR(x nmea.XDR) []Event {
	type partial struct {
		v    sample.Vector3
		seen uint8
	}
	var order []sample.Channel
	byChannel := make(map[sample.Channel]*partial)

	for _, m := range x.Measurements {
		name := strings.ToUpper(strings.TrimSpace(m.TransducerName))
		if len(name) < 2 {
			continue
		}
		ch := sample.ParseChannel(name[:len(name)-1])

		p, ok := byChannel[ch]
		if !ok {
			p = &partial{}
			byChannel[ch] = p
			order = append(order, ch)
		}

		switch name[len(name)-1] {
		case 'X':
			p.v.X = m.Value
			p.seen |= 1
		case 'Y':
			p.v.Y = m.Value
			p.seen |= 2
		case 'Z':
			p.v.Z = m.Value
			p.seen |= 4
		}
	}

	var events []Event
	for _, ch := range order {
		if p := byChannel[ch]; p.seen == 7 {
			events = append(events, Event{Channel: ch, Vector: p.v})
		}
	}
	return events
}
