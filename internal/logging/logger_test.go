package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env, level string
		want       zapcore.Level
		wantErr    bool
	}{
		{"development", "debug", zapcore.DebugLevel, false},
		{"production", "info", zapcore.InfoLevel, false},
		{"production", "warn", zapcore.WarnLevel, false},
		{"production", "loud", 0, true},
	}
	for _, tt := range tests {
		logger, err := New(tt.env, tt.level)
		if (err != nil) != tt.wantErr {
			t.Fatalf("New(%q, %q) error = %v; wantErr %v", tt.env, tt.level, err, tt.wantErr)
		}
		if err != nil {
			continue
		}
		if !logger.Core().Enabled(tt.want) {
			t.Errorf("New(%q, %q) does not enable %s", tt.env, tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q, %q) enables %s", tt.env, tt.level, tt.want-1)
		}
	}
}
