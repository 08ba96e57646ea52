package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Core().Enabled(zapcore.InfoLevel) || l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected info level by default")
	}
}

func TestEncodingFormat(t *testing.T) {
	if encodingFormat(true) != "console" || encodingFormat(false) != "json" {
		t.Fatal("unexpected encodings")
	}
}

func TestFailureLoggerLimit(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fl := NewFailureLogger(&Logger{Logger: zap.New(core)}, 2)

	fl.LogFailure(nil)
	for i := 0; i < 4; i++ {
		fl.LogFailure(errors.New("boom"))
	}

	if fl.Count() != 4 {
		t.Fatalf("expected 4 failures counted, got %d", fl.Count())
	}
	warns := logs.FilterLevelExact(zapcore.WarnLevel).Len()
	debugs := logs.FilterLevelExact(zapcore.DebugLevel).Len()
	// Two failures plus the limit notice at warn, the rest at debug.
	if warns != 3 || debugs != 2 {
		t.Fatalf("expected 3 warn and 2 debug entries, got %d and %d", warns, debugs)
	}
}

func TestWithRunID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := (&Logger{Logger: zap.New(core)}).WithRunID("01ABC")
	l.Info("hello")

	entries := logs.All()
	if len(entries) != 1 || entries[0].ContextMap()["run_id"] != "01ABC" {
		t.Fatalf("expected run_id field, got %+v", entries)
	}
}
