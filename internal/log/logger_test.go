package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trades-rl/internal/config"
)

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "console"}, "test")
	if err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNewLogger_DefaultsOutputs(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Encoding: "json"}, "test")
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level enabled")
	}
}

func TestForAgent_AddsField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ForAgent(zap.New(core), 3).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["agent"]; got != int64(3) {
		t.Fatalf("expected agent=3, got %v", got)
	}
	if entries[0].LoggerName != "agent" {
		t.Fatalf("expected logger name agent, got %q", entries[0].LoggerName)
	}
}
