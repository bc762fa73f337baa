package telemetry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/aivenapp-conversion-webhook/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LoggingConfig{Level: "info", Format: config.LogFormatJSON}, &buf, true)

	log.Info("Conversion succeeded", "uid", "abc")
	log.V(1).Info("hidden at info")

	out := buf.String()
	assert.Contains(t, out, `"msg":"Conversion succeeded"`)
	assert.Contains(t, out, `"uid":"abc"`)
	assert.NotContains(t, out, "hidden at info")
}

func TestNewLogger_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LoggingConfig{Level: "debug", Format: config.LogFormatJSON}, &buf, false)

	log.V(1).Info("Conversion request received")

	assert.Contains(t, buf.String(), "Conversion request received")
}

func TestNewLogger_InvalidLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LoggingConfig{Level: "loud", Format: config.LogFormatJSON}, &buf, false)

	assert.Contains(t, buf.String(), "Invalid LOG_LEVEL")
	assert.Contains(t, buf.String(), `"value":"loud"`)

	buf.Reset()
	log.Info("still logging")
	log.V(1).Info("debug suppressed")
	assert.Contains(t, buf.String(), "still logging")
	assert.NotContains(t, buf.String(), "debug suppressed")
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LoggingConfig{Level: "info", Format: config.LogFormatConsole}, &buf, false)

	log.Info("Webhook server starting")

	assert.Contains(t, buf.String(), "Webhook server starting")
	assert.NotContains(t, buf.String(), `"msg":`)
}

func TestUseConsole(t *testing.T) {
	tests := []struct {
		format   string
		terminal bool
		want     bool
	}{
		{format: config.LogFormatAuto, terminal: true, want: true},
		{format: config.LogFormatAuto, terminal: false, want: false},
		{format: config.LogFormatJSON, terminal: true, want: false},
		{format: config.LogFormatConsole, terminal: false, want: true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, useConsole(tt.format, tt.terminal), "format=%s terminal=%v", tt.format, tt.terminal)
	}
}
