package mapper

import (
	"errors"
	"testing"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

func TestModelResolver_PinnedModelWinsOutright(t *testing.T) {
	r := &ModelResolver{}
	got, err := r.Resolve("gpt-4o", types.Anthropic(), "claude-3-5-sonnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "claude-3-5-sonnet" {
		t.Errorf("Resolve() = %q, want the pinned model", got)
	}
}

func TestModelResolver_NativeProviderKeepsLiteral(t *testing.T) {
	r := &ModelResolver{}
	got, err := r.Resolve("gpt-4o", types.OpenAI(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "gpt-4o" {
		t.Errorf("Resolve() = %q, want unchanged literal for a native-speaking provider", got)
	}
}

func TestModelResolver_NamedProviderAlsoSpeaksNatively(t *testing.T) {
	r := &ModelResolver{}
	got, err := r.Resolve("gpt-4o", types.Named("together"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "gpt-4o" {
		t.Errorf("Resolve() = %q, want unchanged literal for an OpenAI-compatible named provider", got)
	}
}

func TestModelResolver_RouterMappingTakesPrecedenceOverGlobal(t *testing.T) {
	r := &ModelResolver{
		RouterMappings: map[string]map[string]string{
			"gpt-4o": {"anthropic": "claude-router-specific"},
		},
		GlobalMappings: map[string]map[string]string{
			"gpt-4o": {"anthropic": "claude-global"},
		},
	}
	got, err := r.Resolve("gpt-4o", types.Anthropic(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "claude-router-specific" {
		t.Errorf("Resolve() = %q, want the router-scoped mapping to win", got)
	}
}

func TestModelResolver_FallsBackToGlobalMapping(t *testing.T) {
	r := &ModelResolver{
		GlobalMappings: map[string]map[string]string{
			"gpt-4o": {"anthropic": "claude-global"},
		},
	}
	got, err := r.Resolve("gpt-4o", types.Anthropic(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "claude-global" {
		t.Errorf("Resolve() = %q, want the global mapping", got)
	}
}

func TestModelResolver_NoMappingReturnsError(t *testing.T) {
	r := &ModelResolver{}
	_, err := r.Resolve("gpt-4o", types.Anthropic(), "")
	if err == nil {
		t.Fatal("expected an error when no step in the chain resolves a model")
	}
	var noMapping *ErrNoModelMapping
	if !errors.As(err, &noMapping) {
		t.Fatalf("expected *ErrNoModelMapping, got %T: %v", err, err)
	}
	if noMapping.Source != "gpt-4o" || noMapping.Target != "anthropic" {
		t.Errorf("ErrNoModelMapping = %+v, want Source=gpt-4o Target=anthropic", noMapping)
	}
}

func TestModelResolver_NilReceiverBehavesAsEmptyTable(t *testing.T) {
	var r *ModelResolver
	_, err := r.Resolve("gpt-4o", types.Anthropic(), "")
	if err == nil {
		t.Fatal("expected an error from a nil resolver with no pinned model and a non-native target")
	}

	got, err := r.Resolve("gpt-4o", types.OpenAI(), "")
	if err != nil {
		t.Fatalf("unexpected error for a native provider on a nil resolver: %v", err)
	}
	if got != "gpt-4o" {
		t.Errorf("Resolve() = %q, want unchanged literal", got)
	}
}
