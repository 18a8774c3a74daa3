// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

// IMUConfig selects the SPI wiring and full-scale ranges of an MPU9250.
type IMUConfig struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	Interval   time.Duration
}

// LSB per unit for each full-scale setting, from the MPU9250 datasheet.
var (
	accelLSBPerG   = [4]float64{16384, 8192, 4096, 2048}
	gyroLSBPerDegS = [4]float64{131, 65.5, 32.8, 16.4}
)

// AccelToMS2 converts a raw accelerometer count to m/s².
func AccelToMS2(raw int16, accelRange byte) float64 {
	return float64(raw) / accelLSBPerG[accelRange&3] * standardGravity
}

// GyroToRadS converts a raw gyroscope count to rad/s.
func GyroToRadS(raw int16, gyroRange byte) float64 {
	return float64(raw) / gyroLSBPerDegS[gyroRange&3] * math.Pi / 180
}

// IMUSource reads an MPU9250 over SPI. The accelerometer feeds the gravity
// channel and the gyroscope feeds the gyroscope channel.
type IMUSource struct {
	cfg    IMUConfig
	imu    *mpu9250.MPU9250
	logger *zap.Logger
}

// NewIMUSource initializes the MPU9250 described by cfg.
func NewIMUSource(cfg IMUConfig, logger *zap.Logger) (*IMUSource, error) {
	logger = logger.Named("imu")

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.SPIDevice, err)
	}

	imu, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := imu.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	if err := imu.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	logger.Info("IMU ranges set",
		zap.Int("accel_g", []int{2, 4, 8, 16}[cfg.AccelRange&3]),
		zap.Int("gyro_dps", []int{250, 500, 1000, 2000}[cfg.GyroRange&3]))

	if err := imu.Calibrate(); err != nil {
		logger.Warn("IMU calibration failed", zap.Error(err))
	} else {
		logger.Info("IMU calibration complete")
	}

	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Millisecond
	}
	return &IMUSource{cfg: cfg, imu: imu, logger: logger}, nil
}

// Run polls the IMU every interval and emits a gravity and a gyroscope
// event per poll. Read errors are logged and the poll is skipped.
func (s *IMUSource) Run(ctx context.Context, emit func(Event)) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			accel, gyro, err := s.read()
			if err != nil {
				s.logger.Warn("IMU read error", zap.Error(err))
				continue
			}
			emit(Event{Channel: sample.Gravity, Vector: accel})
			emit(Event{Channel: sample.Gyroscope, Vector: gyro})
		}
	}
}

func (s *IMUSource) read() (accel, gyro sample.Vector3, err error) {
	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return accel, gyro, fmt.Errorf("accel X: %w", err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return accel, gyro, fmt.Errorf("accel Y: %w", err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return accel, gyro, fmt.Errorf("accel Z: %w", err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return accel, gyro, fmt.Errorf("gyro X: %w", err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return accel, gyro, fmt.Errorf("gyro Y: %w", err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return accel, gyro, fmt.Errorf("gyro Z: %w", err)
	}

	r := s.cfg.AccelRange
	accel = sample.Vector3{X: AccelToMS2(ax, r), Y: AccelToMS2(ay, r), Z: AccelToMS2(az, r)}
	g := s.cfg.GyroRange
	gyro = sample.Vector3{X: GyroToRadS(gx, g), Y: GyroToRadS(gy, g), Z: GyroToRadS(gz, g)}
	return accel, gyro, nil
}
