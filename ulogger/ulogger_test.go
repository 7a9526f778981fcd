package ulogger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bsv-blockchain/chainstate/ulogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    string
		expected map[string]bool
	}{
		{level: "DEBUG", expected: map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}},
		{level: "INFO", expected: map[string]bool{"DEBUG": false, "INFO": true, "WARN": true, "ERROR": true}},
		{level: "WARN", expected: map[string]bool{"DEBUG": false, "INFO": false, "WARN": true, "ERROR": true}},
		{level: "ERROR", expected: map[string]bool{"DEBUG": false, "INFO": false, "WARN": false, "ERROR": true}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer

			logger := ulogger.New("chainstate", ulogger.WithLevel(tt.level), ulogger.WithWriter(&buf))

			logger.Debugf("DEBUG message")
			logger.Infof("INFO message")
			logger.Warnf("WARN message")
			logger.Errorf("ERROR message")

			output := buf.String()
			for level, want := range tt.expected {
				assert.Equal(t, want, strings.Contains(output, level+" message"), "level %s", level)
			}
		})
	}
}

func TestZeroLogger_ServiceName(t *testing.T) {
	var buf bytes.Buffer

	logger := ulogger.NewZeroLogger("utxo", ulogger.WithWriter(&buf))
	logger.Infof("applied block %d", 12)

	assert.Contains(t, buf.String(), "utxo")
	assert.Contains(t, buf.String(), "applied block 12")
}

func TestZeroLogger_NewInheritsParent(t *testing.T) {
	var buf bytes.Buffer

	parent := ulogger.New("chainstate", ulogger.WithLevel("WARN"), ulogger.WithWriter(&buf))
	child := parent.New("validator")

	child.Infof("hidden")
	child.Warnf("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "validator")
	assert.Equal(t, parent.LogLevel(), child.LogLevel())

	dup := parent.Duplicate(ulogger.WithLevel("DEBUG"))
	dup.Debugf("debug from duplicate")
	assert.Contains(t, buf.String(), "debug from duplicate")
}

func TestZeroLogger_SetLogLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := ulogger.NewZeroLogger("chainstate", ulogger.WithWriter(&buf))
	logger.Debugf("before")

	logger.SetLogLevel("debug")
	logger.Debugf("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}

func TestNewGoCoreLogger(t *testing.T) {
	logger := ulogger.New("chainstate", ulogger.WithLoggerType("gocore"), ulogger.WithLevel("DEBUG"))
	require.NotNil(t, logger)

	_, ok := logger.(*ulogger.GoCoreLogger)
	require.True(t, ok)

	require.NotNil(t, logger.New("validator"))
	require.NotNil(t, logger.Duplicate(ulogger.WithSkipFrame(1)))
}

func TestTestLogger(t *testing.T) {
	var logger ulogger.Logger = ulogger.TestLogger{}

	logger.Infof("nothing %d", 1)
	assert.Equal(t, ulogger.TestLogger{}, logger.New("x"))

	logger = ulogger.New("chainstate", ulogger.WithLoggerType("test"))
	assert.IsType(t, ulogger.TestLogger{}, logger)
}

func TestVerboseTestLogger(t *testing.T) {
	logger := ulogger.NewVerboseTestLogger(t)

	logger.Debugf("debug %s", "line")
	logger.Warnf("warn %s", "line")
	assert.Same(t, logger, logger.New("other"))
}
