package observability

import (
	"strings"

	"github.com/smallbiznis/hostbill/internal/config"
)

// Config is the telemetry view of the application config: one service
// identity shared by logs, traces and metrics.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "hostbill"
	}
	telemetry := cfg.Telemetry
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(strings.TrimSpace(telemetry.LogLevel)),
		LogFormat:            strings.ToLower(strings.TrimSpace(telemetry.LogFormat)),
		OtelEnabled:          telemetry.TraceEnabled && endpoint != "",
		OtelExporterEndpoint: endpoint,
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(telemetry.TraceProtocol)),
		OtelSamplingRatio:    clampRatio(telemetry.SampleRatio),
	}
}

// Debug reports whether verbose logging applies. Production never logs at
// debug unless the level asks for it explicitly.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}
