package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"", logrus.InfoLevel},
		{"garbage", logrus.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNewLogger_ProductionUsesJSON(t *testing.T) {
	logger := NewLogger("debug", "production")

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewLogger_DevelopmentUsesText(t *testing.T) {
	logger := NewLogger("info", "development")

	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}
