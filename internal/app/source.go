package app

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/config"
	"github.com/relabs-tech/sensorsend/internal/sensors"
)

// NewSource builds the raw-event source selected by SENSOR_SOURCE.
func NewSource(cfg *config.Config, logger *zap.Logger) (sensors.Source, error) {
	interval := time.Duration(cfg.SensorSampleInterval) * time.Millisecond

	switch cfg.SensorSource {
	case "mock":
		logger.Info("using mock sensor source", zap.Duration("interval", interval))
		return sensors.NewMockSource(interval), nil
	case "mpu9250":
		return sensors.NewIMUSource(sensors.IMUConfig{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
			GyroRange:  cfg.IMUGyroRange,
			Interval:   interval,
		}, logger)
	case "serial":
		return sensors.NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate, logger), nil
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}
