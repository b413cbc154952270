package telemetry_test

import (
	"context"
	"strings"
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/internal/config"
	"github.com/agentoven/agentoven/guardrail-engine/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.TelemetryConfig{Enabled: false, OTLPEndpoint: "localhost:4317"}, "test")
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOnSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "ParentBased"},
	}
	for _, tt := range tests {
		if got := telemetry.Sampler(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Sampler(%v) = %s, want %s", tt.ratio, got, tt.want)
		}
	}
}
