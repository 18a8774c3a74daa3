// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

const standardGravity = 9.80665 // m/s²

// MockSource generates a slowly tilting device: gravity swings around the
// Z axis and the gyroscope reports the matching angular rates. Channels
// alternate on every tick.
type MockSource struct {
	interval time.Duration
	start    time.Time
}

// NewMockSource creates a mock source ticking every interval.
func NewMockSource(interval time.Duration) *MockSource {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &MockSource{interval: interval, start: time.Now()}
}

func (m *MockSource) Run(ctx context.Context, emit func(Event)) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	gravityNext := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			elapsed := t.Sub(m.start).Seconds()
			if gravityNext {
				emit(Event{Channel: sample.Gravity, Vector: mockGravity(elapsed)})
			} else {
				emit(Event{Channel: sample.Gyroscope, Vector: mockGyro(elapsed)})
			}
			gravityNext = !gravityNext
		}
	}
}

// mockGravity tilts by roll = 20°·sin(t) and pitch = 15°·cos(0.7t).
func mockGravity(t float64) sample.Vector3 {
	roll := 20 * math.Sin(t) * math.Pi / 180
	pitch := 15 * math.Cos(t*0.7) * math.Pi / 180

	return sample.Vector3{
		X: -standardGravity * math.Sin(pitch),
		Y: standardGravity * math.Cos(pitch) * math.Sin(roll),
		Z: standardGravity * math.Cos(pitch) * math.Cos(roll),
	}
}

// mockGyro is the time derivative of the mock roll and pitch, in rad/s.
func mockGyro(t float64) sample.Vector3 {
	return sample.Vector3{
		X: 20 * math.Cos(t) * math.Pi / 180,
		Y: -15 * 0.7 * math.Sin(t*0.7) * math.Pi / 180,
		Z: 0,
	}
}
