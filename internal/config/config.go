package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// Target
	TargetHost string // optional: connect on startup
	TargetPort int

	// Dispatch
	WireFormat        string // "text", "json" or "channel"
	DispatchWorkers   int
	DispatchQueueSize int
	BatchSize         int // 0 or 1: one datagram per sample
	BatchTimeoutMS    int

	// Sensor source
	SensorSource         string // "mock", "mpu9250", "serial"
	SensorSampleInterval int    // milliseconds

	// IMU Hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Serial transducer feed
	SerialPort     string
	SerialBaudRate int

	// Control
	ControlListen string // HTTP control API, empty disables

	// Status display
	DisplayEnabled        bool
	DisplayUpdateInterval int // milliseconds

	// MQTT
	MQTTBroker           string // empty disables MQTT
	MQTTClientIDProducer string
	MQTTClientIDReceiver string
	TopicSamples         string
	TopicControl         string

	// Receiver
	ReceiverListen string
	WebServerPort  int
	AMQPURL        string // empty disables AMQP
	AMQPExchange   string
	StatsInterval  int // seconds

	// Logging
	LogLevel string
	LogFile  string
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config with every optional key at its default.
func Default() *Config {
	return &Config{
		TargetPort:            1593,
		WireFormat:            "text",
		DispatchWorkers:       4,
		DispatchQueueSize:     1024,
		BatchTimeoutMS:        100,
		SensorSource:          "mock",
		SensorSampleInterval:  20,
		IMUSPIDevice:          "/dev/spidev0.0",
		IMUCSPin:              "8",
		SerialBaudRate:        115200,
		ControlListen:         ":8081",
		DisplayUpdateInterval: 250,
		MQTTClientIDProducer:  "sensorsend-producer",
		MQTTClientIDReceiver:  "sensorsend-receiver",
		TopicSamples:          "sensorsend/samples",
		TopicControl:          "sensorsend/control",
		ReceiverListen:        ":1593",
		WebServerPort:         8080,
		AMQPExchange:          "sensorsend",
		StatsInterval:         10,
		LogLevel:              "info",
	}
}

// Load reads the KEY=VALUE configuration file on top of Default().
func Load(configPath string) (*Config, error) {
	values, err := godotenv.Read(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromMap(values)
}

// FromMap applies values on top of Default() and validates the result.
func FromMap(values map[string]string) (*Config, error) {
	cfg := Default()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := cfg.setValue(strings.TrimSpace(key), strings.TrimSpace(values[key])); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Target
	case "TARGET_HOST":
		c.TargetHost = value
	case "TARGET_PORT":
		port, err := parseRange(key, value, 1, 65535)
		if err != nil {
			return err
		}
		c.TargetPort = port

	// Dispatch
	case "WIRE_FORMAT":
		c.WireFormat = strings.ToLower(value)
	case "DISPATCH_WORKERS":
		n, err := parseRange(key, value, 1, 256)
		if err != nil {
			return err
		}
		c.DispatchWorkers = n
	case "DISPATCH_QUEUE_SIZE":
		n, err := parseRange(key, value, 1, 1<<20)
		if err != nil {
			return err
		}
		c.DispatchQueueSize = n
	case "BATCH_SIZE":
		n, err := parseRange(key, value, 0, 1000)
		if err != nil {
			return err
		}
		c.BatchSize = n
	case "BATCH_TIMEOUT_MS":
		n, err := parseRange(key, value, 1, 60000)
		if err != nil {
			return err
		}
		c.BatchTimeoutMS = n

	// Sensor source
	case "SENSOR_SOURCE":
		c.SensorSource = strings.ToLower(value)
	case "SENSOR_SAMPLE_INTERVAL":
		n, err := parseRange(key, value, 1, 60000)
		if err != nil {
			return err
		}
		c.SensorSampleInterval = n

	// IMU Hardware
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		n, err := parseRange(key, value, 0, 3)
		if err != nil {
			return fmt.Errorf("%w (0=±2g, 1=±4g, 2=±8g, 3=±16g)", err)
		}
		c.IMUAccelRange = byte(n)
	case "IMU_GYRO_RANGE":
		n, err := parseRange(key, value, 0, 3)
		if err != nil {
			return fmt.Errorf("%w (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s)", err)
		}
		c.IMUGyroRange = byte(n)

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		n, err := parseRange(key, value, 1, 4000000)
		if err != nil {
			return err
		}
		c.SerialBaudRate = n

	// Control
	case "CONTROL_LISTEN":
		c.ControlListen = value

	// Status display
	case "DISPLAY_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		c.DisplayEnabled = b
	case "DISPLAY_UPDATE_INTERVAL":
		n, err := parseRange(key, value, 50, 60000)
		if err != nil {
			return err
		}
		c.DisplayUpdateInterval = n

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_RECEIVER":
		c.MQTTClientIDReceiver = value
	case "TOPIC_SAMPLES":
		c.TopicSamples = value
	case "TOPIC_CONTROL":
		c.TopicControl = value

	// Receiver
	case "RECEIVER_LISTEN":
		c.ReceiverListen = value
	case "WEB_SERVER_PORT":
		port, err := parseRange(key, value, 0, 65535)
		if err != nil {
			return err
		}
		c.WebServerPort = port
	case "AMQP_URL":
		c.AMQPURL = value
	case "AMQP_EXCHANGE":
		c.AMQPExchange = value
	case "STATS_INTERVAL":
		n, err := parseRange(key, value, 0, 3600)
		if err != nil {
			return err
		}
		c.StatsInterval = n

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FILE":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseRange(key, value string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, n)
	}
	return n, nil
}

// Override applies command-line values using the same keys and parsing as
// the config file, then validates the result. On error c is left unchanged.
func (c *Config) Override(values map[string]string) error {
	next := *c
	for key, value := range values {
		if err := next.setValue(key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("override %s: %w", key, err)
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.WireFormat {
	case "text", "json", "channel":
	default:
		return fmt.Errorf("WIRE_FORMAT must be text, json or channel, got %q", c.WireFormat)
	}

	switch c.SensorSource {
	case "mock":
	case "mpu9250":
		if c.IMUSPIDevice == "" {
			return fmt.Errorf("IMU_SPI_DEVICE is required for SENSOR_SOURCE=mpu9250")
		}
	case "serial":
		if c.SerialPort == "" {
			return fmt.Errorf("SERIAL_PORT is required for SENSOR_SOURCE=serial")
		}
	default:
		return fmt.Errorf("SENSOR_SOURCE must be mock, mpu9250 or serial, got %q", c.SensorSource)
	}

	if c.MQTTBroker != "" && c.TopicSamples == "" {
		return fmt.Errorf("TOPIC_SAMPLES is required when MQTT_BROKER is set")
	}
	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP_EXCHANGE is required when AMQP_URL is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
