package orientation

import (
	"math"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// Pose is the tilt of the sending device, in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ComputePoseFromGravity computes roll and pitch from a gravity vector in any
// unit. Yaw is not observable from gravity and stays 0.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(gy, gz)
//	pitch = atan2(-gx, sqrt(gy² + gz²))
func ComputePoseFromGravity(gx, gy, gz float64) Pose {
	rollRad := math.Atan2(gy, gz)
	pitchRad := math.Atan2(-gx, math.Sqrt(gy*gy+gz*gz))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
	}
}

// FromSample is ComputePoseFromGravity on the gravity half of s.
func FromSample(s sample.Sample) Pose {
	return ComputePoseFromGravity(s.GravityX, s.GravityY, s.GravityZ)
}

// Integrate advances prev by the gyroscope rates (rad/s) over dt seconds.
// The tilt from gravity anchors roll and pitch with a complementary filter;
// yaw is pure integration and drifts.
func Integrate(prev Pose, s sample.Sample, dt float64, alpha float64) Pose {
	tilt := FromSample(s)
	if dt <= 0 {
		tilt.Yaw = prev.Yaw
		return tilt
	}

	const radToDeg = 180.0 / math.Pi
	roll := prev.Roll + s.GyroX*radToDeg*dt
	pitch := prev.Pitch + s.GyroY*radToDeg*dt
	yaw := normalizeDeg(prev.Yaw + s.GyroZ*radToDeg*dt)

	return Pose{
		Roll:  alpha*roll + (1-alpha)*tilt.Roll,
		Pitch: alpha*pitch + (1-alpha)*tilt.Pitch,
		Yaw:   yaw,
	}
}

// normalizeDeg wraps an angle into (-180, 180].
func normalizeDeg(a float64) float64 {
	a = math.Mod(a, 360)
	if a > 180 {
		a -= 360
	} else if a <= -180 {
		a += 360
	}
	return a
}
