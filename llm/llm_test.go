package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestFactory(t *testing.T) {
	h, err := New("openai")
	if err != nil {
		t.Fatalf("Expected openai provider to resolve: %v", err)
	}
	if h.Name() != "openai" {
		t.Fatalf("Expected handler name %q, got %q", "openai", h.Name())
	}

	h, err = New("ollama")
	if err != nil {
		t.Fatalf("Expected ollama provider to resolve: %v", err)
	}
	if h.Name() != "ollama" {
		t.Fatalf("Expected handler name %q, got %q", "ollama", h.Name())
	}

	if _, err := New("braindump"); err == nil {
		t.Fatalf("Expected error for unknown provider, got none")
	}
}

func TestContextPrompt(t *testing.T) {
	if got := ContextPrompt("plain question", nil); got != "plain question" {
		t.Fatalf("Expected prompt to pass through without documents, got %q", got)
	}

	got := ContextPrompt("what now?", []string{"doc one", "doc two"})
	if !strings.Contains(got, "doc one") || !strings.Contains(got, "doc two") {
		t.Fatalf("Expected documents to be embedded, got %q", got)
	}
	if !strings.HasSuffix(got, "Question: what now?") {
		t.Fatalf("Expected the question to close the prompt, got %q", got)
	}
}

func TestConnectRequiresParameters(t *testing.T) {
	ctx := context.Background()

	openai := &OpenAIHandler{}
	if err := openai.Connect(ctx, map[string]string{"model": "gpt-4o"}); err == nil {
		t.Fatalf("Expected error connecting openai without token, got none")
	}
	if err := openai.Connect(ctx, map[string]string{"token": "sk-test"}); err == nil {
		t.Fatalf("Expected error connecting openai without model, got none")
	}

	ollama := &OllamaHandler{}
	if err := ollama.Connect(ctx, map[string]string{"host": "localhost"}); err == nil {
		t.Fatalf("Expected error connecting ollama without model, got none")
	}
}

// fakeOllamaServer serves the endpoints the ollama client hits: HEAD / for
// heartbeats, /api/tags for the model list, /api/chat for completions.
func fakeOllamaServer(t *testing.T, models []string, reply string) (host, port string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusOK)
		case "/api/tags":
			list := map[string]any{"models": []map[string]any{}}
			for _, m := range models {
				list["models"] = append(list["models"].([]map[string]any), map[string]any{"name": m})
			}
			json.NewEncoder(w).Encode(list)
		case "/api/chat":
			body, _ := io.ReadAll(r.Body)
			var req map[string]any
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("Failed to decode chat request: %v", err)
			}
			w.Header().Set("Content-Type", "application/x-ndjson")
			json.NewEncoder(w).Encode(map[string]any{
				"model":      req["model"],
				"message":    map[string]any{"role": "assistant", "content": reply},
				"done":       true,
				"eval_count": 7,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	return u.Hostname(), u.Port()
}

func TestOllamaConnectAndComplete(t *testing.T) {
	ctx := context.Background()
	host, port := fakeOllamaServer(t, []string{"tinyllama:latest"}, "a short answer")

	h := &OllamaHandler{}
	err := h.Connect(ctx, map[string]string{"host": host, "port": port, "model": "tinyllama"})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	if !h.Connected(ctx) {
		t.Fatalf("Expected handler to report connected")
	}

	ok, err := h.ValidateModel(ctx, "some-other-model")
	if err != nil {
		t.Fatalf("Failed to validate model: %v", err)
	}
	if ok {
		t.Fatalf("Expected unknown model to be rejected")
	}

	resp, err := h.Complete(ctx, Request{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Failed to complete: %v", err)
	}
	if resp.Content != "a short answer" {
		t.Fatalf("Expected the server reply, got %q", resp.Content)
	}
	if resp.Metadata["eval_count"] != 7 {
		t.Fatalf("Expected eval_count metadata, got %v", resp.Metadata)
	}
}

func TestOllamaConnectRejectsMissingModel(t *testing.T) {
	ctx := context.Background()
	host, port := fakeOllamaServer(t, []string{"tinyllama:latest"}, "")

	h := &OllamaHandler{}
	err := h.Connect(ctx, map[string]string{"host": host, "port": port, "model": "not-pulled"})
	if err == nil {
		t.Fatalf("Expected error connecting with an unpulled model, got none")
	}
}

func TestGenerateSchema(t *testing.T) {
	type answer struct {
		IDs []string `json:"ids"`
	}
	schema := GenerateSchema[answer]()
	if schema == nil {
		t.Fatalf("Expected a schema, got nil")
	}
}
