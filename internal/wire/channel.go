// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// Per-channel records carry one raw vector instead of a fused sample:
//
//	GravityData(x=0.1, y=0.2, z=9.8)
//	GyroscopeData(x=0.0, y=0.0, z=0.01)
var channelPrefixes = map[sample.Channel]string{
	sample.Gravity:   "GravityData(",
	sample.Gyroscope: "GyroscopeData(",
}

var axisNames = [3]string{"x", "y", "z"}

// ChannelCodec sends only the vector of the channel that produced the
// sample, as the phone app did before samples were fused.
type ChannelCodec struct{}

func (ChannelCodec) Name() string { return FormatChannel }

func (ChannelCodec) Encode(s sample.Sample) ([]byte, error) {
	v, ok := s.Vector(s.Channel)
	if !ok {
		return nil, fmt.Errorf("sample has no source channel (%q)", s.Channel)
	}
	return []byte(EncodeChannel(s.Channel, v)), nil
}

// EncodeChannel renders v as a GravityData(...) or GyroscopeData(...) record.
// Unknown channels render as an empty string.
func EncodeChannel(ch sample.Channel, v sample.Vector3) string {
	prefix, ok := channelPrefixes[ch]
	if !ok {
		return ""
	}

	var b strings.Builder
	b.WriteString(prefix)
	for i, f := range [3]float64{v.X, v.Y, v.Z} {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(axisNames[i])
		b.WriteByte('=')
		b.WriteString(formatFloat(f))
	}
	b.WriteString(textSuffix)
	return b.String()
}

// DecodeChannel parses a per-channel record. x, y and z must all be present.
func DecodeChannel(text string) (sample.Channel, sample.Vector3, error) {
	text = strings.TrimSpace(text)

	var ch sample.Channel
	var body string
	for c, prefix := range channelPrefixes {
		if strings.HasPrefix(text, prefix) && strings.HasSuffix(text, textSuffix) {
			ch = c
			body = strings.TrimSuffix(strings.TrimPrefix(text, prefix), textSuffix)
			break
		}
	}
	if ch == "" {
		return "", sample.Vector3{}, fmt.Errorf("not a channel record: %q", text)
	}

	var v sample.Vector3
	dst := [3]*float64{&v.X, &v.Y, &v.Z}
	var seen [3]bool

	for _, part := range strings.Split(body, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", sample.Vector3{}, fmt.Errorf("malformed field %q", part)
		}

		idx := -1
		for i, name := range axisNames {
			if name == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", sample.Vector3{}, fmt.Errorf("unknown field %q", key)
		}
		if seen[idx] {
			return "", sample.Vector3{}, fmt.Errorf("duplicate field %q", key)
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return "", sample.Vector3{}, fmt.Errorf("field %s: %w", key, err)
		}
		*dst[idx] = f
		seen[idx] = true
	}

	for i, ok := range seen {
		if !ok {
			return "", sample.Vector3{}, fmt.Errorf("missing field %q", axisNames[i])
		}
	}
	return ch, v, nil
}

// isChannelRecord reports whether b starts like a per-channel record.
func isChannelRecord(b []byte) bool {
	for _, prefix := range channelPrefixes {
		if strings.HasPrefix(string(b), prefix) {
			return true
		}
	}
	return false
}

// partial builds a sample that carries only v, tagged with ch.
func partial(ch sample.Channel, v sample.Vector3) sample.Sample {
	s := sample.Sample{Channel: ch}
	switch ch {
	case sample.Gravity:
		s.GravityX, s.GravityY, s.GravityZ = v.X, v.Y, v.Z
	case sample.Gyroscope:
		s.GyroX, s.GyroY, s.GyroZ = v.X, v.Y, v.Z
	}
	return s
}
