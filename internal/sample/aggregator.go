// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sample

import "sync"

// Aggregator merges readings from the gravity and gyroscope channels into
// fused samples. It keeps the last-known vector of each channel; both start
// at zero.
//
// The zero value is ready to use.
type Aggregator struct {
	mu      sync.Mutex
	gravity Vector3
	gyro    Vector3
}

// NewAggregator returns an Aggregator with both channels zeroed.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// OnRawEvent records v as the latest value of ch and returns a sample made of
// v and the other channel's last-known vector. A sample is produced for every
// recognised event, even before the other channel has reported.
// Events for unknown channels are ignored and ok is false.
func (a *Aggregator) OnRawEvent(ch Channel, v Vector3) (s Sample, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ch {
	case Gravity:
		a.gravity = v
	case Gyroscope:
		a.gyro = v
	default:
		return Sample{}, false
	}

	return Sample{
		GravityX: a.gravity.X,
		GravityY: a.gravity.Y,
		GravityZ: a.gravity.Z,
		GyroX:    a.gyro.X,
		GyroY:    a.gyro.Y,
		GyroZ:    a.gyro.Z,
		Channel:  ch,
	}, true
}
