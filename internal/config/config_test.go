package config

import (
	"testing"
	"time"
)

func TestRetentionWindow(t *testing.T) {
	tests := []struct {
		days int
		want time.Duration
	}{
		{0, 0},
		{-1, 0},
		{1, 24 * time.Hour},
		{30, 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		c := AnalysisConfig{RetentionDays: tt.days}
		if got := c.RetentionWindow(); got != tt.want {
			t.Errorf("RetentionWindow(%d days) = %v, want %v", tt.days, got, tt.want)
		}
	}
}
