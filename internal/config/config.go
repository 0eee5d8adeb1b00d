// Package config loads the card maker configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matsumoto-fabrica/cardmaker/internal/segment"
)

// Segmentation backends.
const (
	BackendDNN        = "dnn"
	BackendSubprocess = "subprocess"
	BackendKey        = "key"
	BackendNone       = "none"
)

// Config represents the complete card maker configuration.
type Config struct {
	Camera       CameraConfig       `yaml:"camera"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Capture      CaptureConfig      `yaml:"capture"`
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Log          LogConfig          `yaml:"log"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	Device int    `yaml:"device"`
	URL    string `yaml:"url"` // video file or stream; overrides device
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`
}

// SegmentationConfig contains backend and preview settings.
type SegmentationConfig struct {
	Backend string `yaml:"backend"` // dnn, subprocess, key, none
	// CaptureBackend builds a second backend for burst capture; empty shares Backend's settings.
	CaptureBackend string        `yaml:"capture_backend"`
	Model          string        `yaml:"model"`
	ModelConfig    string        `yaml:"model_config"`
	Script         string        `yaml:"script"`
	Python         string        `yaml:"python"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	Mode           segment.Mode  `yaml:"mode"`
	Threshold      float64       `yaml:"threshold"`
	Sharpness      float64       `yaml:"sharpness"`
	MinArea        int           `yaml:"min_instance_area"`
}

// CaptureConfig contains burst capture settings.
type CaptureConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Timeout  time.Duration `yaml:"timeout"` // 0 disables the deadline
}

// ServerConfig contains HTTP settings.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// StoreConfig locates the journal database.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"` // empty disables publishing
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	StatsEvery  time.Duration `yaml:"stats_every"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Width:  1280,
			Height: 720,
			FPS:    30,
		},
		Segmentation: SegmentationConfig{
			Backend:     BackendKey,
			IdleTimeout: 5 * time.Minute,
			Mode:        segment.DefaultMode,
			Threshold:   0.9,
			Sharpness:   20,
			MinArea:     64,
		},
		Capture: CaptureConfig{
			Attempts: 3,
			Delay:    150 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Store: StoreConfig{
			Path: "cardmaker.db",
		},
		MQTT: MQTTConfig{
			ClientID:    "cardmaker",
			TopicPrefix: "cardmaker",
			StatsEvery:  time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file on top of Default and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.Camera.FPS < 0 || c.Camera.Width < 0 || c.Camera.Height < 0 {
		errs = append(errs, errors.New("camera: width, height and fps must not be negative"))
	}

	for _, b := range []string{c.Segmentation.Backend, c.Segmentation.CaptureBackend} {
		switch b {
		case "", BackendDNN, BackendSubprocess, BackendKey, BackendNone:
		default:
			errs = append(errs, fmt.Errorf("segmentation: unknown backend %q", b))
		}
	}
	if c.Segmentation.Backend == "" {
		errs = append(errs, errors.New("segmentation: backend is required"))
	}
	if c.Segmentation.Backend == BackendDNN && c.Segmentation.Model == "" {
		errs = append(errs, errors.New("segmentation: dnn backend needs a model"))
	}
	if !c.Segmentation.Mode.Valid() {
		errs = append(errs, fmt.Errorf("segmentation: invalid mode %d", c.Segmentation.Mode))
	}
	if t := c.Segmentation.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("segmentation: threshold %v outside [0,1]", t))
	}
	if c.Segmentation.Sharpness < 0 {
		errs = append(errs, errors.New("segmentation: sharpness must not be negative"))
	}

	if c.Capture.Attempts < 1 {
		errs = append(errs, errors.New("capture: attempts must be at least 1"))
	}
	if c.Capture.Delay < 0 || c.Capture.Timeout < 0 {
		errs = append(errs, errors.New("capture: delay and timeout must not be negative"))
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
