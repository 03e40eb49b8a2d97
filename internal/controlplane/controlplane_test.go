package controlplane

import (
	"encoding/json"
	"testing"

	"github.com/nulpointcorp/llm-gateway/internal/auth"
)

func TestClient_RecordTrimsToMaxHistory(t *testing.T) {
	c := &Client{}
	for i := 0; i < maxHistory+10; i++ {
		c.record(Frame{Type: "keys"})
	}
	if len(c.history) != maxHistory {
		t.Fatalf("history length = %d, want capped at %d", len(c.history), maxHistory)
	}
}

func TestClient_HistoryReturnsACopy(t *testing.T) {
	c := &Client{}
	c.record(Frame{Type: "keys"})

	h := c.History()
	h[0] = Frame{Type: "mutated"}

	if c.history[0].Type != "keys" {
		t.Error("mutating the slice returned by History must not affect the client's internal history")
	}
}

func TestClient_HistoryEmptyInitially(t *testing.T) {
	c := &Client{}
	if got := c.History(); len(got) != 0 {
		t.Errorf("History() = %v, want empty for a fresh client", got)
	}
}

func TestFrame_UnmarshalKeys(t *testing.T) {
	raw := `{"type":"keys","keys":[{"KeyHash":"h1","OwnerID":"o1","OrgID":"g1"}]}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f.Type != "keys" {
		t.Errorf("Type = %q, want keys", f.Type)
	}
	want := []auth.KeyRecord{{KeyHash: "h1", OwnerID: "o1", OrgID: "g1"}}
	if len(f.Keys) != 1 || f.Keys[0] != want[0] {
		t.Errorf("Keys = %+v, want %+v", f.Keys, want)
	}
}

func TestFrame_UnmarshalConfigKeepsRawPayload(t *testing.T) {
	raw := `{"type":"config","config":{"routers":{"default":{"load_balance":"weighted-provider"}}}}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f.Type != "config" {
		t.Errorf("Type = %q, want config", f.Type)
	}
	if len(f.Config) == 0 {
		t.Error("expected the raw config payload to be preserved for the caller to unmarshal")
	}
}

func TestFrame_UnmarshalError(t *testing.T) {
	raw := `{"type":"error","error":"unauthorized"}`
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if f.Type != "error" || f.Error != "unauthorized" {
		t.Errorf("Frame = %+v, want Type=error Error=unauthorized", f)
	}
}
