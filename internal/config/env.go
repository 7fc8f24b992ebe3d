package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Env is a namespaced view over environment variables, e.g. "DVS_".
type Env struct{ prefix string }

func NewEnv(prefix string) Env { return Env{prefix: prefix} }

func (e Env) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(e.prefix + key))
	return v, v != ""
}

func (e Env) String(key string, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e Env) Int(key string, def int) int {
	if v, ok := e.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (e Env) Float(key string, def float64) float64 {
	if v, ok := e.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool accepts 1|true|yes and 0|false|no.
func (e Env) Bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return def
}

func (e Env) Duration(key string, def time.Duration) time.Duration {
	if v, ok := e.lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// ApplyEnv overlays DVS_* environment variables on c.
func (c AppConfig) ApplyEnv() AppConfig {
	env := NewEnv("DVS_")
	c.Height = env.Int("HEIGHT", c.Height)
	c.Width = env.Int("WIDTH", c.Width)
	c.ContrastThreshold = env.Float("CONTRAST_THRESHOLD", c.ContrastThreshold)
	c.LogEpsilon = env.Float("LOG_EPSILON", c.LogEpsilon)
	c.BufferCapacity = env.Int("BUFFER_CAPACITY", c.BufferCapacity)
	c.NoiseFilter = env.Bool("NOISE_FILTER", c.NoiseFilter)
	c.Border = env.String("BORDER", c.Border)
	c.Source = env.String("SOURCE", c.Source)
	c.Endpoint = env.String("ENDPOINT", c.Endpoint)
	c.ReplayPath = env.String("REPLAY_PATH", c.ReplayPath)
	c.SimFPS = env.Float("SIM_FPS", c.SimFPS)
	c.PublishAddr = env.String("PUBLISH_ADDR", c.PublishAddr)
	c.Port = env.Int("PORT", c.Port)
	c.VizWindow = env.Duration("VIZ_WINDOW", c.VizWindow)
	c.UIRate = env.Duration("UI_RATE", c.UIRate)
	c.PerfReportInterval = env.Duration("PERF_INTERVAL", c.PerfReportInterval)
	c.RawLogEnabled = env.Bool("RAW_LOG", c.RawLogEnabled)
	c.RawLogDir = env.String("RAW_LOG_DIR", c.RawLogDir)
	c.LogLevel = env.String("LOG_LEVEL", c.LogLevel)
	c.LogFormat = env.String("LOG_FORMAT", c.LogFormat)
	return c
}
