package classify

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nulpointcorp/llm-gateway/internal/types"
)

func TestClassify_Router(t *testing.T) {
	got := Classify("/router/my-router/v1/chat/completions", "")
	want := Result{Kind: KindRouter, RouterID: types.RouterId("my-router"), Rest: "/v1/chat/completions"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Classify mismatch (-want +got):\n%s", diff)
	}
}

func TestClassify_Unified(t *testing.T) {
	got := Classify("/ai/v1/chat/completions", "")
	if got.Kind != KindUnified {
		t.Fatalf("expected KindUnified, got %v", got.Kind)
	}
	if got.Rest != "/v1/chat/completions" {
		t.Errorf("Rest = %q, want /v1/chat/completions", got.Rest)
	}
}

func TestClassify_Direct(t *testing.T) {
	got := Classify("/openai/v1/chat/completions", "")
	if got.Kind != KindDirect {
		t.Fatalf("expected KindDirect, got %v", got.Kind)
	}
	if got.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", got.Provider)
	}
	if got.Rest != "/v1/chat/completions" {
		t.Errorf("Rest = %q, want /v1/chat/completions", got.Rest)
	}
}

func TestClassify_DirectLowercasesProvider(t *testing.T) {
	got := Classify("/OpenAI/v1/chat/completions", "")
	if got.Provider != "openai" {
		t.Errorf("Provider = %q, want lowercased openai", got.Provider)
	}
}

func TestClassify_DestinationHeaderForcesDirectOnRouter(t *testing.T) {
	got := Classify("/router/my-router/v1/chat/completions", "Anthropic")
	if got.Kind != KindDirect {
		t.Fatalf("expected KindDirect when destination header is set, got %v", got.Kind)
	}
	if got.Provider != "anthropic" {
		t.Errorf("Provider = %q, want anthropic", got.Provider)
	}
	if got.Rest != "/v1/chat/completions" {
		t.Errorf("Rest = %q, want /v1/chat/completions", got.Rest)
	}
}

func TestClassify_DestinationHeaderForcesDirectOnUnified(t *testing.T) {
	got := Classify("/ai/v1/chat/completions", "gemini")
	if got.Kind != KindDirect {
		t.Fatalf("expected KindDirect when destination header is set, got %v", got.Kind)
	}
	if got.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", got.Provider)
	}
}

func TestClassify_DestinationHeaderIgnoredOnDirect(t *testing.T) {
	// A /{provider}/... path already names its provider; the header must
	// not override it.
	got := Classify("/openai/v1/chat/completions", "anthropic")
	if got.Provider != "openai" {
		t.Errorf("Provider = %q, want openai (header must be ignored on direct paths)", got.Provider)
	}
}

func TestClassify_InvalidRouterID(t *testing.T) {
	got := Classify("/router/"+string(make([]byte, 100)), "")
	if got.Kind != KindUnknown {
		t.Errorf("expected KindUnknown for an invalid router id, got %v", got.Kind)
	}
}

func TestClassify_Unknown(t *testing.T) {
	got := Classify("", "")
	if got.Kind != KindUnknown {
		t.Errorf("expected KindUnknown for empty path, got %v", got.Kind)
	}
}
