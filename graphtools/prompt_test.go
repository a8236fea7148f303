package graphtools

import (
	"strings"
	"testing"

	"github.com/Vikash221010/context-graph-demo/agent"
)

func TestBuildSystemPrompt(t *testing.T) {
	registry := newTestRegistry(&fakeStore{}, &fakeAnalytics{}, &fakeVectors{})
	prompt := BuildSystemPrompt(registry)

	if !strings.HasPrefix(prompt, SystemPrompt) {
		t.Error("built prompt must start with the base prompt")
	}
	if !strings.Contains(prompt, "## Available Tools") {
		t.Error("expected tool manifest section")
	}
	for _, name := range []string{"search_customer", "execute_cypher", "record_decision"} {
		if !strings.Contains(prompt, "**"+name+"**") {
			t.Errorf("manifest missing %s", name)
		}
	}
}

func TestBuildSystemPromptEmptyRegistry(t *testing.T) {
	if got := BuildSystemPrompt(agent.NewToolRegistry()); got != SystemPrompt {
		t.Error("empty registry must yield the bare prompt")
	}
}
