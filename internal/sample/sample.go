// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sample

import "strings"

// Channel identifies one of the two motion sensor streams.
type Channel string

const (
	Gravity   Channel = "gravity"
	Gyroscope Channel = "gyroscope"
)

// Vector3 is a raw three-axis reading as delivered by a sensor channel.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample is one fused snapshot of the latest gravity and gyroscope vectors.
// Fields not yet reported by their channel read as zero.
type Sample struct {
	GravityX float64 `json:"gravityX"` // m/s²
	GravityY float64 `json:"gravityY"`
	GravityZ float64 `json:"gravityZ"`

	GyroX float64 `json:"gyroX"` // rad/s
	GyroY float64 `json:"gyroY"`
	GyroZ float64 `json:"gyroZ"`

	// Channel is the channel whose event produced the sample. It is not
	// part of the fused wire formats. A decoded single-channel message
	// carries only this channel's vector.
	Channel Channel `json:"-"`
}

// Gravity returns the gravity part of the sample.
func (s Sample) Gravity() Vector3 {
	return Vector3{X: s.GravityX, Y: s.GravityY, Z: s.GravityZ}
}

// Gyro returns the gyroscope part of the sample.
func (s Sample) Gyro() Vector3 {
	return Vector3{X: s.GyroX, Y: s.GyroY, Z: s.GyroZ}
}

// Vector returns the part of the sample that belongs to ch.
func (s Sample) Vector(ch Channel) (Vector3, bool) {
	switch ch {
	case Gravity:
		return s.Gravity(), true
	case Gyroscope:
		return s.Gyro(), true
	default:
		return Vector3{}, false
	}
}

// ParseChannel maps a textual channel tag to a Channel.
// Unknown tags are returned as-is; the aggregator ignores them.
func ParseChannel(tag string) Channel {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "gravity", "grav":
		return Gravity
	case "gyroscope", "gyro":
		return Gyroscope
	default:
		return Channel(tag)
	}
}
