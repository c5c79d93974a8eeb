package conf

import (
	"strings"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	parsed := &Config{}
	if err := ConfigSchema.Parse(map[string]any{}, parsed); err != nil {
		t.Fatalf("parse defaults: %v", err)
	}

	if parsed.Server.DataDir == "" || strings.HasPrefix(parsed.Server.DataDir, "~") {
		t.Fatalf("expected expanded data dir, got %q", parsed.Server.DataDir)
	}
	if !strings.HasSuffix(parsed.Output.Dir, "output") {
		t.Fatalf("unexpected output dir: %q", parsed.Output.Dir)
	}
	if parsed.Agent.Binary != "claude" {
		t.Fatalf("unexpected agent binary: %q", parsed.Agent.Binary)
	}
	if parsed.Agent.Model == "" {
		t.Fatalf("expected default model")
	}
}

func TestConfigOverrides(t *testing.T) {
	payload := map[string]any{
		"agent": map[string]any{"binary": "claude-dev", "model": "claude-opus-4-5"},
	}
	parsed := &Config{}
	if err := ConfigSchema.Parse(payload, parsed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Agent.Binary != "claude-dev" {
		t.Fatalf("expected override, got %q", parsed.Agent.Binary)
	}
	if parsed.Agent.Model != "claude-opus-4-5" {
		t.Fatalf("expected override, got %q", parsed.Agent.Model)
	}
}

func TestExpandPath(t *testing.T) {
	expanded, err := ExpandPath("~/data")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if strings.HasPrefix(expanded, "~") {
		t.Fatalf("expected home expansion, got %q", expanded)
	}

	plain, err := ExpandPath("/tmp/x")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if plain != "/tmp/x" {
		t.Fatalf("expected passthrough, got %q", plain)
	}
}
