package observability

import (
	"strings"

	"github.com/smallbiznis/fitdesk/internal/config"
)

// Config is the observability view of the device configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	DeviceID    string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	t := cfg.Telemetry
	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "fitdesk"),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		DeviceID:             strings.TrimSpace(cfg.DeviceID),
		LogLevel:             firstNonEmpty(t.LogLevel, "info"),
		LogFormat:            firstNonEmpty(t.LogFormat, "json"),
		OtelEnabled:          t.OTLPEnabled && strings.TrimSpace(t.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(t.OTLPEndpoint),
		OtelExporterProtocol: firstNonEmpty(t.OTLPProtocol, "grpc"),
		OtelSamplingRatio:    clampRatio(t.SamplingRatio),
	}
	// A terminal being debugged records every trace.
	if out.Debug() && out.OtelEnabled {
		out.OtelSamplingRatio = 1
	}
	return out
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}

func clampRatio(r float64) float64 {
	switch {
	case r <= 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
