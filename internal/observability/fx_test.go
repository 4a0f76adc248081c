package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitConfigSamplesLogsOutsideDebug(t *testing.T) {
	cfg := Config{
		ServiceName:          "clientbilling",
		Environment:          "production",
		Version:              "1.4.0",
		LogLevel:             "info",
		LogFormat:            "json",
		OtelEnabled:          true,
		OtelExporterEndpoint: "otel:4317",
		OtelExporterProtocol: "grpc",
		OtelSamplingRatio:    0.25,
	}

	logCfg, traceCfg, metricCfg := splitConfig(cfg)
	assert.Equal(t, 50, logCfg.SamplingInitial)
	assert.Equal(t, 20, logCfg.SamplingThereafter)
	assert.Equal(t, time.Second, logCfg.SamplingWindow)
	assert.False(t, logCfg.IncludeStackOnError)
	assert.True(t, logCfg.IncludeCaller)

	assert.True(t, traceCfg.Enabled)
	assert.Equal(t, "1.4.0", traceCfg.ServiceVersion)
	assert.Equal(t, 0.25, traceCfg.SamplingRatio)

	assert.True(t, metricCfg.Enabled)
	assert.Equal(t, "otel:4317", metricCfg.ExporterEndpoint)
	assert.Equal(t, "production", metricCfg.Environment)
}

func TestSplitConfigLeavesSamplingDefaultsInDebug(t *testing.T) {
	logCfg, traceCfg, _ := splitConfig(Config{ServiceName: "clientbilling", Environment: "local", LogLevel: "info"})
	assert.Zero(t, logCfg.SamplingInitial)
	assert.Zero(t, logCfg.SamplingThereafter)
	assert.True(t, logCfg.IncludeStackOnError)
	assert.False(t, traceCfg.Enabled)
}
