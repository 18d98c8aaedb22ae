// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// SerialConfig selects the byte stream to the microcontroller
type SerialConfig struct {
	// Port is a serial device path, or "auto" to pick the first USB serial port
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
	// URL selects a WebSocket serial bridge instead of a local port
	URL          string `mapstructure:"url"`
	Username     string `mapstructure:"username"`
	NoSSLVerify  bool   `mapstructure:"noSslVerify"`
	PortCapacity int    `mapstructure:"portCapacity"`
}

// ProtocolConfig holds link timing and receive buffer limits
type ProtocolConfig struct {
	EstablishTimeout  time.Duration `mapstructure:"establishTimeout"`
	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
	ReceiveTimeout    time.Duration `mapstructure:"receiveTimeout"`
	ReconnectDelay    time.Duration `mapstructure:"reconnectDelay"`
	BufferSize        int           `mapstructure:"bufferSize"`
	CutSize           int           `mapstructure:"cutSize"`
	OverflowThreshold int           `mapstructure:"overflowThreshold"`
	RecoveryTimeout   time.Duration `mapstructure:"recoveryTimeout"`
}

// EngineConfig holds the control loop cadences
type EngineConfig struct {
	ServerUpdatePeriod time.Duration `mapstructure:"serverUpdatePeriod"`
	StatusInterval     time.Duration `mapstructure:"statusInterval"`
	StatusFile         string        `mapstructure:"statusFile"`
	ProfilerClearEvery int           `mapstructure:"profilerClearEvery"`
	FailedBatchQueue   int           `mapstructure:"failedBatchQueue"`
	IdleDelay          time.Duration `mapstructure:"idleDelay"`
}

// ElementConfig holds per-element defaults
type ElementConfig struct {
	SensingPoint element.SensingPointConfig `mapstructure:"sensingPoint"`
	Actuator     element.ActuatorConfig     `mapstructure:"actuator"`
}

// ClimateConfig enables the temperature/humidity/light table. Roles map a
// climate role (heater, vent, ...) to an actuator identifier like "AAHE 1".
type ClimateConfig struct {
	Enabled     bool                      `mapstructure:"enabled"`
	Temperature string                    `mapstructure:"temperature"`
	Humidity    string                    `mapstructure:"humidity"`
	Light       string                    `mapstructure:"light"`
	Roles       map[string]string         `mapstructure:"roles"`
	Thresholds  element.ClimateThresholds `mapstructure:"thresholds"`
}

// PosterConfig bounds background datapoint posting
type PosterConfig struct {
	MaxWorkers int           `mapstructure:"maxWorkers"`
	MinWait    time.Duration `mapstructure:"minWait"`
	MaxWait    time.Duration `mapstructure:"maxWait"`
	WaitStep   time.Duration `mapstructure:"waitStep"`
	WaitRelief time.Duration `mapstructure:"waitRelief"`
}

// BackendConfig selects and configures the backend
type BackendConfig struct {
	// Kind is "http" for the REST server or "file" for a local YAML fixture
	Kind               string        `mapstructure:"kind"`
	BaseURL            string        `mapstructure:"baseUrl"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Retries            int           `mapstructure:"retries"`
	Timeout            time.Duration `mapstructure:"timeout"`
	WarnResults        int           `mapstructure:"warnResults"`
	MaxResults         int           `mapstructure:"maxResults"`
	SetPointsPath      string        `mapstructure:"setPointsPath"`
	InsecureSkipVerify bool          `mapstructure:"insecureSkipVerify"`
	File               string        `mapstructure:"file"`
	Poster             PosterConfig  `mapstructure:"poster"`
}

// LumberjackConfig is the rotating log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig holds log level and outputs
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// HTTPConfig is the health/metrics/status listener
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top-level configuration
type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Element  ElementConfig  `mapstructure:"element"`
	Climate  ClimateConfig  `mapstructure:"climate"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// Load reads configuration from a YAML file and GRO_* environment variables.
// An empty path falls back to $GRO_CONFIG, then ./configs/gro.yaml. A
// missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("GRO_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("gro")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix("GRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "auto")
	v.SetDefault("serial.baud", 9600)
	v.SetDefault("serial.url", "")
	v.SetDefault("serial.username", "")
	v.SetDefault("serial.noSslVerify", false)
	v.SetDefault("serial.portCapacity", 4096)

	v.SetDefault("protocol.establishTimeout", "2s")
	v.SetDefault("protocol.readTimeout", "10ms")
	v.SetDefault("protocol.receiveTimeout", "3s")
	v.SetDefault("protocol.reconnectDelay", "3s")
	v.SetDefault("protocol.bufferSize", 8192)
	v.SetDefault("protocol.cutSize", 4096)
	v.SetDefault("protocol.overflowThreshold", 3500)
	v.SetDefault("protocol.recoveryTimeout", "3s")

	v.SetDefault("engine.serverUpdatePeriod", "15s")
	v.SetDefault("engine.statusInterval", "10s")
	v.SetDefault("engine.statusFile", "grostatus.log")
	v.SetDefault("engine.profilerClearEvery", 10)
	v.SetDefault("engine.failedBatchQueue", 64)
	v.SetDefault("engine.idleDelay", "10ms")

	v.SetDefault("element.sensingPoint.refreshInterval", "60s")
	v.SetDefault("element.sensingPoint.sampleInterval", "5s")
	v.SetDefault("element.sensingPoint.bufferCapacity", 50)
	v.SetDefault("element.sensingPoint.backlogWarning", 20)
	v.SetDefault("element.sensingPoint.retry.maxRetries", 5)
	v.SetDefault("element.sensingPoint.retry.period", "60s")
	v.SetDefault("element.sensingPoint.retry.timeout", "600s")
	v.SetDefault("element.actuator.updateInterval", "1s")
	v.SetDefault("element.actuator.maxStateSetTime", "10s")
	v.SetDefault("element.actuator.retry.maxRetries", 5)
	v.SetDefault("element.actuator.retry.period", "60s")
	v.SetDefault("element.actuator.retry.timeout", "600s")

	v.SetDefault("climate.enabled", false)
	v.SetDefault("climate.temperature", "SATM 1")
	v.SetDefault("climate.humidity", "SAHU 1")
	v.SetDefault("climate.light", "SLIN 1")
	v.SetDefault("climate.roles", map[string]string{})
	v.SetDefault("climate.thresholds.temperatureActive", 0.5)
	v.SetDefault("climate.thresholds.temperatureInactive", 1.0)
	v.SetDefault("climate.thresholds.humidityActive", 2.0)
	v.SetDefault("climate.thresholds.humidityInactive", 4.0)

	v.SetDefault("backend.kind", "http")
	v.SetDefault("backend.baseUrl", "http://localhost/")
	v.SetDefault("backend.username", "plantos")
	v.SetDefault("backend.password", "")
	v.SetDefault("backend.retries", 5)
	v.SetDefault("backend.timeout", "5s")
	v.SetDefault("backend.warnResults", 500)
	v.SetDefault("backend.maxResults", 1000)
	v.SetDefault("backend.setPointsPath", "tray/1/set_points/")
	v.SetDefault("backend.insecureSkipVerify", false)
	v.SetDefault("backend.file", "configs/bench.yaml")
	v.SetDefault("backend.poster.maxWorkers", 5)
	v.SetDefault("backend.poster.minWait", "100ms")
	v.SetDefault("backend.poster.maxWait", "2s")
	v.SetDefault("backend.poster.waitStep", "50ms")
	v.SetDefault("backend.poster.waitRelief", "10ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "logs/grobot.log")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("http.enable", true)
	v.SetDefault("http.addr", ":8088")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}
