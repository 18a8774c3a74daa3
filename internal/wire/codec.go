// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package wire encodes fused samples into datagram payloads and back.
//
// The default text format is a deterministic field list:
//
//	SensorData(gravityX=0.1, gravityY=0.2, gravityZ=9.8, gyroX=0.0, gyroY=0.0, gyroZ=0.0)
//
// Existing phone-app receivers expect exactly this field
// order and naming. JSON is available as a self-describing alternative, and
// the channel format sends one GravityData(...) or GyroscopeData(...) record
// per sensor event instead of a fused sample.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatChannel = "channel"
)

// Codec turns a sample into the bytes of one message.
type Codec interface {
	Name() string
	Encode(s sample.Sample) ([]byte, error)
}

// CodecFor returns the codec registered under format.
func CodecFor(format string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return TextCodec{}, nil
	case FormatJSON:
		return JSONCodec{}, nil
	case FormatChannel:
		return ChannelCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", format)
	}
}

// TextCodec renders SensorData(...) field lists.
type TextCodec struct{}

func (TextCodec) Name() string { return FormatText }

func (TextCodec) Encode(s sample.Sample) ([]byte, error) {
	return []byte(EncodeText(s)), nil
}

// JSONCodec renders samples as flat JSON objects.
type JSONCodec struct{}

func (JSONCodec) Name() string { return FormatJSON }

func (JSONCodec) Encode(s sample.Sample) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("json encode sample: %w", err)
	}
	return b, nil
}

// DecodeJSON parses a JSON-encoded sample.
func DecodeJSON(b []byte) (sample.Sample, error) {
	var s sample.Sample
	if err := json.Unmarshal(b, &s); err != nil {
		return sample.Sample{}, fmt.Errorf("json decode sample: %w", err)
	}
	return s, nil
}
