package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/ppiankov/auditrag/internal/model"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     model.LoggingConfig
		level   zapcore.Level
		wantErr bool
	}{
		{"json info", model.LoggingConfig{Level: "info", Format: "json"}, zapcore.InfoLevel, false},
		{"console debug", model.LoggingConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel, false},
		{"defaults", model.LoggingConfig{}, zapcore.InfoLevel, false},
		{"upper case level", model.LoggingConfig{Level: "WARN"}, zapcore.WarnLevel, false},
		{"bad level", model.LoggingConfig{Level: "loud"}, 0, true},
		{"bad format", model.LoggingConfig{Format: "xml"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !logger.Core().Enabled(tt.level) {
				t.Errorf("expected level %s enabled", tt.level)
			}
			if tt.level > zapcore.DebugLevel && logger.Core().Enabled(tt.level-1) {
				t.Errorf("expected level %s disabled", tt.level-1)
			}
		})
	}
}
