package orientation

import (
	"math"
	"testing"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputePoseFromGravity(t *testing.T) {
	tests := []struct {
		name        string
		gx, gy, gz  float64
		roll, pitch float64
	}{
		{"flat", 0, 0, 9.81, 0, 0},
		{"rolled right", 0, 9.81, 0, 90, 0},
		{"nose down", -9.81, 0, 0, 0, 90},
		{"45 roll", 0, 1, 1, 45, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ComputePoseFromGravity(tt.gx, tt.gy, tt.gz)
			if !approx(p.Roll, tt.roll) || !approx(p.Pitch, tt.pitch) || p.Yaw != 0 {
				t.Errorf("pose = %+v, want roll=%v pitch=%v yaw=0", p, tt.roll, tt.pitch)
			}
		})
	}
}

func TestFromSampleIgnoresGyro(t *testing.T) {
	p := FromSample(sample.Sample{GravityZ: 9.81, GyroX: 3, GyroY: 3, GyroZ: 3})
	if p != (Pose{}) {
		t.Errorf("FromSample() = %+v, want level pose", p)
	}
}

func TestIntegrate(t *testing.T) {
	level := sample.Sample{GravityZ: 9.81}

	// Pure gyro with alpha 1: one second at π/2 rad/s yaw is 90°.
	s := level
	s.GyroZ = math.Pi / 2
	p := Integrate(Pose{}, s, 1, 1)
	if !approx(p.Yaw, 90) {
		t.Errorf("yaw = %v, want 90", p.Yaw)
	}

	// Alpha 0 snaps to the gravity tilt.
	p = Integrate(Pose{Roll: 30, Pitch: 10}, level, 0.1, 0)
	if !approx(p.Roll, 0) || !approx(p.Pitch, 0) {
		t.Errorf("pose = %+v, want level roll/pitch", p)
	}

	// Yaw wraps.
	s.GyroZ = math.Pi
	p = Integrate(Pose{Yaw: 170}, s, 0.5, 1)
	if !approx(p.Yaw, -100) {
		t.Errorf("yaw = %v, want -100", p.Yaw)
	}
}
