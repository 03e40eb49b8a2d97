package mapper

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

func TestRegistry_ForKnownProviders(t *testing.T) {
	r := NewRegistry()
	cases := []struct {
		provider types.InferenceProvider
		want     Mapper
	}{
		{types.OpenAI(), identityMapper{}},
		{types.Anthropic(), openAIToAnthropic{}},
		{types.GoogleGemini(), openAIToGemini{}},
		{types.Bedrock(), bedrockMapper{}},
		{types.Ollama(), ollamaMapper{}},
	}
	for _, c := range cases {
		m, err := r.For(c.provider)
		if err != nil {
			t.Fatalf("For(%v): unexpected error: %v", c.provider, err)
		}
		if m != c.want {
			t.Errorf("For(%v) = %T, want %T", c.provider, m, c.want)
		}
	}
}

func TestRegistry_NamedProviderAlwaysGetsIdentityMapper(t *testing.T) {
	r := NewRegistry()
	m, err := r.For(types.Named("my-openai-compatible-vendor"))
	if err != nil {
		t.Fatalf("For(Named): unexpected error: %v", err)
	}
	if _, ok := m.(identityMapper); !ok {
		t.Errorf("For(Named) = %T, want identityMapper", m)
	}
}

func TestRegistry_UnknownProviderErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(types.InferenceProvider{})
	if err == nil {
		t.Fatal("expected an error for the zero-value (ProviderUnknown) provider")
	}
}

func TestIdentityMapper_PassesThroughUnchanged(t *testing.T) {
	m := identityMapper{}
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	req, err := m.MapRequest(body, "gpt-4o")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	if string(req) != string(body) {
		t.Errorf("MapRequest = %s, want unchanged", req)
	}

	resp, err := m.MapResponse(body)
	if err != nil {
		t.Fatalf("MapResponse: %v", err)
	}
	if string(resp) != string(body) {
		t.Errorf("MapResponse = %s, want unchanged", resp)
	}

	chunk, err := m.MapStreamChunk([]byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("MapStreamChunk: %v", err)
	}
	if string(chunk) != "data: {\"x\":1}\n\n" {
		t.Errorf("MapStreamChunk = %q, want SSE-framed passthrough", chunk)
	}
}

func TestOpenAIToAnthropic_MapRequest_HoistsSystemPrompt(t *testing.T) {
	m := openAIToAnthropic{}
	body := []byte(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi"}],"max_tokens":512,"stream":true}`)

	out, err := m.MapRequest(body, "claude-3-5-sonnet")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "system").String(); got != "be nice" {
		t.Errorf("system = %q, want %q", got, "be nice")
	}
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 512 {
		t.Errorf("max_tokens = %d, want 512", got)
	}
	if got := gjson.GetBytes(out, "model").String(); got != "claude-3-5-sonnet" {
		t.Errorf("model = %q, want claude-3-5-sonnet", got)
	}
	msgs := gjson.GetBytes(out, "messages").Array()
	if len(msgs) != 1 || msgs[0].Get("role").String() != "user" {
		t.Errorf("messages = %v, want the system message hoisted out, leaving only the user turn", msgs)
	}
	if !gjson.GetBytes(out, "stream").Bool() {
		t.Error("expected stream:true to be preserved")
	}
}

func TestOpenAIToAnthropic_MapRequest_DefaultsMaxTokens(t *testing.T) {
	m := openAIToAnthropic{}
	out, err := m.MapRequest([]byte(`{"messages":[]}`), "claude-3-5-sonnet")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 4096 {
		t.Errorf("max_tokens = %d, want default 4096", got)
	}
}

func TestOpenAIToAnthropic_MapResponse(t *testing.T) {
	m := openAIToAnthropic{}
	body := []byte(`{"id":"msg_1","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hello"}],"usage":{"input_tokens":10,"output_tokens":5}}`)

	out, err := m.MapResponse(body)
	if err != nil {
		t.Fatalf("MapResponse: %v", err)
	}
	if got := gjson.GetBytes(out, "choices.0.message.content").String(); got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
	if got := gjson.GetBytes(out, "usage.prompt_tokens").Int(); got != 10 {
		t.Errorf("prompt_tokens = %d, want 10", got)
	}
	if got := gjson.GetBytes(out, "usage.completion_tokens").Int(); got != 5 {
		t.Errorf("completion_tokens = %d, want 5", got)
	}
	if got := gjson.GetBytes(out, "id").String(); got != "msg_1" {
		t.Errorf("id = %q, want msg_1", got)
	}
}

func TestOpenAIToAnthropic_MapStreamChunk(t *testing.T) {
	m := openAIToAnthropic{}

	delta, err := m.MapStreamChunk([]byte(`{"type":"content_block_delta","delta":{"text":"hi"}}`))
	if err != nil {
		t.Fatalf("MapStreamChunk(content_block_delta): %v", err)
	}
	if got := gjson.Get(string(delta)[len("data: "):], "choices.0.delta.content").String(); got != "hi" {
		t.Errorf("forwarded delta content = %q, want hi", got)
	}

	stop, err := m.MapStreamChunk([]byte(`{"type":"message_stop"}`))
	if err != nil {
		t.Fatalf("MapStreamChunk(message_stop): %v", err)
	}
	if string(stop) != "data: [DONE]\n\n" {
		t.Errorf("message_stop chunk = %q, want the [DONE] marker", stop)
	}

	dropped, err := m.MapStreamChunk([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("MapStreamChunk(ping): %v", err)
	}
	if dropped != nil {
		t.Errorf("expected a ping event to be dropped (nil, nil), got %q", dropped)
	}
}

func TestOpenAIToGemini_MapRequest_RewritesRolesAndConfig(t *testing.T) {
	m := openAIToGemini{}
	body := []byte(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}],"temperature":0.5,"max_tokens":200}`)

	out, err := m.MapRequest(body, "gemini-1.5-pro")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	contents := gjson.GetBytes(out, "contents").Array()
	if len(contents) != 3 {
		t.Fatalf("contents = %d entries, want 3", len(contents))
	}
	if contents[0].Get("role").String() != "user" {
		t.Errorf("system role should map to user, got %q", contents[0].Get("role").String())
	}
	if contents[2].Get("role").String() != "model" {
		t.Errorf("assistant role should map to model, got %q", contents[2].Get("role").String())
	}
	if got := gjson.GetBytes(out, "generationConfig.temperature").Float(); got != 0.5 {
		t.Errorf("temperature = %v, want 0.5", got)
	}
	if got := gjson.GetBytes(out, "generationConfig.maxOutputTokens").Int(); got != 200 {
		t.Errorf("maxOutputTokens = %d, want 200", got)
	}
}

func TestOpenAIToGemini_MapResponse(t *testing.T) {
	m := openAIToGemini{}
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"hi "},{"text":"there"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2}}`)

	out, err := m.MapResponse(body)
	if err != nil {
		t.Fatalf("MapResponse: %v", err)
	}
	if got := gjson.GetBytes(out, "choices.0.message.content").String(); got != "hi there" {
		t.Errorf("content = %q, want concatenated parts", got)
	}
	if got := gjson.GetBytes(out, "usage.prompt_tokens").Int(); got != 3 {
		t.Errorf("prompt_tokens = %d, want 3", got)
	}
}

func TestOpenAIToGemini_MapStreamChunk(t *testing.T) {
	m := openAIToGemini{}
	chunk, err := m.MapStreamChunk([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`))
	if err != nil {
		t.Fatalf("MapStreamChunk: %v", err)
	}
	if got := gjson.Get(string(chunk)[len("data: "):], "choices.0.delta.content").String(); got != "hi" {
		t.Errorf("forwarded delta content = %q, want hi", got)
	}
}

func TestBedrockMapper_MapRequest(t *testing.T) {
	m := bedrockMapper{}
	body := []byte(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi"}],"max_tokens":256,"temperature":0.2}`)

	out, err := m.MapRequest(body, "anthropic.claude-3-5-sonnet-20241022-v2:0")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "anthropic_version").String(); got != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %q, want bedrock-2023-05-31", got)
	}
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 256 {
		t.Errorf("max_tokens = %d, want 256", got)
	}
	if got := gjson.GetBytes(out, "system").String(); got != "be nice" {
		t.Errorf("system = %q, want be nice", got)
	}
	if gjson.GetBytes(out, "model").Exists() {
		t.Error("bedrock invoke body must not carry a top-level model field")
	}
}

func TestBedrockMapper_MapRequest_DefaultsMaxTokens(t *testing.T) {
	m := bedrockMapper{}
	out, err := m.MapRequest([]byte(`{"messages":[]}`), "anthropic.claude-3-5-sonnet-20241022-v2:0")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "max_tokens").Int(); got != 4096 {
		t.Errorf("max_tokens = %d, want default 4096", got)
	}
}

func TestBedrockMapper_MapResponseAndStreamDelegateToAnthropic(t *testing.T) {
	m := bedrockMapper{}
	body := []byte(`{"id":"msg_1","content":[{"type":"text","text":"hi"}]}`)

	out, err := m.MapResponse(body)
	if err != nil {
		t.Fatalf("MapResponse: %v", err)
	}
	if got := gjson.GetBytes(out, "choices.0.message.content").String(); got != "hi" {
		t.Errorf("content = %q, want hi (delegated to openAIToAnthropic)", got)
	}

	chunk, err := m.MapStreamChunk([]byte(`{"type":"message_stop"}`))
	if err != nil {
		t.Fatalf("MapStreamChunk: %v", err)
	}
	if string(chunk) != "data: [DONE]\n\n" {
		t.Errorf("MapStreamChunk = %q, want the delegated [DONE] marker", chunk)
	}
}

func TestOllamaMapper_MapRequest(t *testing.T) {
	m := ollamaMapper{}
	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)

	out, err := m.MapRequest(body, "llama3")
	if err != nil {
		t.Fatalf("MapRequest: %v", err)
	}
	if got := gjson.GetBytes(out, "model").String(); got != "llama3" {
		t.Errorf("model = %q, want llama3", got)
	}
	if !gjson.GetBytes(out, "stream").Bool() {
		t.Error("expected stream:true to be preserved")
	}
	msgs := gjson.GetBytes(out, "messages").Array()
	if len(msgs) != 1 || msgs[0].Get("content").String() != "hi" {
		t.Errorf("messages = %v, want the single user turn preserved", msgs)
	}
}

func TestOllamaMapper_MapResponse(t *testing.T) {
	m := ollamaMapper{}
	body := []byte(`{"model":"llama3","message":{"role":"assistant","content":"hello"}}`)

	out, err := m.MapResponse(body)
	if err != nil {
		t.Fatalf("MapResponse: %v", err)
	}
	if got := gjson.GetBytes(out, "choices.0.message.content").String(); got != "hello" {
		t.Errorf("content = %q, want hello", got)
	}
	if got := gjson.GetBytes(out, "model").String(); got != "llama3" {
		t.Errorf("model = %q, want llama3", got)
	}
}

func TestOllamaMapper_MapStreamChunk(t *testing.T) {
	m := ollamaMapper{}

	mid, err := m.MapStreamChunk([]byte(`{"message":{"content":"hi"},"done":false}`))
	if err != nil {
		t.Fatalf("MapStreamChunk(mid): %v", err)
	}
	if got := gjson.Get(string(mid)[len("data: "):], "choices.0.delta.content").String(); got != "hi" {
		t.Errorf("forwarded delta content = %q, want hi", got)
	}

	final, err := m.MapStreamChunk([]byte(`{"message":{"content":""},"done":true}`))
	if err != nil {
		t.Fatalf("MapStreamChunk(final): %v", err)
	}
	if got := string(final); got == "" || got[len(got)-len("data: [DONE]\n\n"):] != "data: [DONE]\n\n" {
		t.Errorf("final chunk = %q, want it to end with the [DONE] marker", got)
	}
}

func TestMapErrorBody_PrefersErrorMessageField(t *testing.T) {
	out := MapErrorBody([]byte(`{"error":{"message":"bad request"}}`), 400)
	if got := gjson.GetBytes(out, "error.message").String(); got != "bad request" {
		t.Errorf("error.message = %q, want %q", got, "bad request")
	}
	if got := gjson.GetBytes(out, "error.code").Int(); got != 400 {
		t.Errorf("error.code = %d, want 400", got)
	}
}

func TestMapErrorBody_FallsBackToTopLevelMessage(t *testing.T) {
	out := MapErrorBody([]byte(`{"message":"nope"}`), 500)
	if got := gjson.GetBytes(out, "error.message").String(); got != "nope" {
		t.Errorf("error.message = %q, want %q", got, "nope")
	}
}

func TestMapErrorBody_FallsBackToRawBody(t *testing.T) {
	out := MapErrorBody([]byte("plain text failure"), 502)
	if got := gjson.GetBytes(out, "error.message").String(); got != "plain text failure" {
		t.Errorf("error.message = %q, want the raw body text", got)
	}
}

func TestMapErrorBody_FallsBackToGenericMessage(t *testing.T) {
	out := MapErrorBody(nil, 503)
	if got := gjson.GetBytes(out, "error.message").String(); got != "upstream returned status 503" {
		t.Errorf("error.message = %q, want the generic fallback", got)
	}
	if got := gjson.GetBytes(out, "error.type").String(); got != "upstream_error" {
		t.Errorf("error.type = %q, want upstream_error", got)
	}
}
