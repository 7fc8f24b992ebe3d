package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type AppConfig struct {
	Height            int     `validate:"min=1,max=4096"`
	Width             int     `validate:"min=1,max=4096"`
	ContrastThreshold float64 `validate:"gt=0,lt=10"`
	LogEpsilon        float64 `validate:"gt=0,lt=1"`
	BufferCapacity    int     `validate:"min=1"`
	NoiseFilter       bool
	Border            string `validate:"oneof=wrap clamp"`

	Source         string  `validate:"oneof=sim zmq replay"`
	Endpoint       string  `validate:"required_if=Source zmq"`
	ReplayPath     string  `validate:"required_if=Source replay"`
	ReplaySpeed    float64 `validate:"gte=0"`
	SimFPS         float64 `validate:"gt=0,lte=1000"`
	IngestLogEvery int     `validate:"min=1"`
	PublishAddr    string

	Port               int           `validate:"min=0,max=65535"`
	VizWindow          time.Duration `validate:"gt=0"`
	UIRate             time.Duration `validate:"gt=0"`
	PerfReportInterval time.Duration `validate:"gt=0"`
	DiagInterval       time.Duration `validate:"gt=0"`
	JPEGQuality        int           `validate:"min=1,max=100"`

	RawLogEnabled bool
	RawLogDir     string `validate:"required_if=RawLogEnabled true"`

	LogLevel  string
	LogFormat string `validate:"oneof=console json"`
}

func Default() AppConfig {
	return AppConfig{
		Height:             480,
		Width:              640,
		ContrastThreshold:  0.15,
		LogEpsilon:         1e-3,
		BufferCapacity:     1_000_000,
		NoiseFilter:        true,
		Border:             "wrap",
		Source:             "sim",
		Endpoint:           "tcp://localhost:31001",
		ReplaySpeed:        1,
		SimFPS:             60,
		IngestLogEvery:     100,
		Port:               8081,
		VizWindow:          33 * time.Millisecond,
		UIRate:             time.Second,
		PerfReportInterval: 5 * time.Second,
		DiagInterval:       2 * time.Second,
		JPEGQuality:        80,
		RawLogDir:          "rawlog",
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first field that violates its constraint.
func (c AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// VizWindowUs is the render accumulation window in microseconds.
func (c AppConfig) VizWindowUs() float64 {
	return float64(c.VizWindow.Microseconds())
}
