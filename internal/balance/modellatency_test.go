package balance

import (
	"context"
	"testing"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

func TestModelLatency_PicksWithinRequestedModelPool(t *testing.T) {
	b := NewModelLatency()
	gpt4 := types.ModelIdWithVersion{Name: "gpt-4"}
	claude := types.ModelIdWithVersion{Name: "claude-3-5-sonnet"}

	b.Insert("gpt4-a", Service{Model: gpt4})
	b.Insert("claude-a", Service{Model: claude})

	key, svc, done, ok := b.Pick(context.Background(), gpt4)
	if !ok {
		t.Fatal("expected ok=true for a model with a registered pool")
	}
	if key != "gpt4-a" {
		t.Errorf("Pick(gpt4) returned %q, want gpt4-a", key)
	}
	if svc.Model.String() != "gpt-4" {
		t.Errorf("Pick(gpt4) returned service for model %q, want gpt-4", svc.Model.String())
	}
	done(nil)
}

func TestModelLatency_UnknownModelIsMiss(t *testing.T) {
	b := NewModelLatency()
	b.Insert("a", Service{Model: types.ModelIdWithVersion{Name: "gpt-4"}})

	_, _, _, ok := b.Pick(context.Background(), types.ModelIdWithVersion{Name: "gemini-pro"})
	if ok {
		t.Fatal("expected ok=false for a model with no registered pool")
	}
}

func TestModelLatency_RemoveIsolatedToOwningPool(t *testing.T) {
	b := NewModelLatency()
	gpt4 := types.ModelIdWithVersion{Name: "gpt-4"}
	claude := types.ModelIdWithVersion{Name: "claude-3-5-sonnet"}

	b.Insert("gpt4-a", Service{Model: gpt4})
	b.Insert("claude-a", Service{Model: claude})
	b.Remove("gpt4-a")

	_, _, _, ok := b.Pick(context.Background(), gpt4)
	if ok {
		t.Error("expected gpt4 pool to be empty after removing its only member")
	}
	_, _, done, ok := b.Pick(context.Background(), claude)
	if !ok {
		t.Error("removing gpt4-a must not disturb the claude pool")
	} else {
		done(nil)
	}
}

func TestModelLatency_NilModelUsesEmptyKeyPool(t *testing.T) {
	b := NewModelLatency()
	b.Insert("untagged", Service{})

	_, _, done, ok := b.Pick(context.Background(), nil)
	if !ok {
		t.Fatal("expected a service inserted with a nil Model to be reachable via a nil-model Pick")
	}
	done(nil)
}
