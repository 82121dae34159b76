package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/jmorganca/ollama/api"
)

// OllamaHandler talks to an Ollama server. Connection parameters: "host",
// "port" (default localhost:11434) and "model".
type OllamaHandler struct {
	client *api.Client
	model  string
	params map[string]string
}

var _ Handler = &OllamaHandler{}

func (h *OllamaHandler) Name() string { return "ollama" }

func (h *OllamaHandler) Connect(ctx context.Context, params map[string]string) error {
	if params["model"] == "" {
		return fmt.Errorf("ollama: connection parameters must contain \"model\"")
	}

	host := params["host"]
	if host == "" {
		host = "localhost"
	}
	port := params["port"]
	if port == "" {
		port = "11434"
	}

	// The client builds its base URL from OLLAMA_HOST only, so the address
	// parameters are routed through the environment.
	if err := os.Setenv("OLLAMA_HOST", net.JoinHostPort(host, port)); err != nil {
		return fmt.Errorf("ollama: cannot set OLLAMA_HOST: %w", err)
	}
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return fmt.Errorf("ollama: cannot build client for %s:%s: %w", host, port, err)
	}

	if err := client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama: server unreachable at %s:%s: %w", host, port, err)
	}

	h.client = client
	h.model = params["model"]
	h.params = params

	ok, err := h.ValidateModel(ctx, h.model)
	if err != nil {
		return fmt.Errorf("ollama: model validation failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("ollama: model %q not found, pull it first", h.model)
	}
	return nil
}

func (h *OllamaHandler) Connected(ctx context.Context) bool {
	if h.client == nil {
		return false
	}
	return h.client.Heartbeat(ctx) == nil
}

func (h *OllamaHandler) ValidateModel(ctx context.Context, model string) (bool, error) {
	if h.client == nil {
		return false, fmt.Errorf("ollama: not connected, use Connect first")
	}
	resp, err := h.client.List(ctx)
	if err != nil {
		return false, err
	}
	for _, m := range resp.Models {
		if m.Name == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return true, nil
		}
	}
	return false, nil
}

func (h *OllamaHandler) Complete(ctx context.Context, req Request) (*Response, error) {
	if h.client == nil {
		return nil, fmt.Errorf("ollama: not connected, use Connect first")
	}

	messages := []api.Message{}
	system := req.System
	format := ""
	if req.Schema != nil {
		// Ollama has no schema-constrained decoding, so constrain the
		// output to JSON and describe the schema in the system prompt.
		format = "json"
		raw, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("ollama: cannot marshal response schema: %w", err)
		}
		system = strings.TrimSpace(system + "\nAnswer with a single JSON object matching this schema: " + string(raw))
	}
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}
	messages = append(messages, api.Message{Role: "user", Content: ContextPrompt(req.Prompt, req.Context)})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    h.model,
		Messages: messages,
		Stream:   &stream,
		Format:   format,
	}

	var content strings.Builder
	var evalCount int
	err := h.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message != nil {
			content.WriteString(resp.Message.Content)
		}
		if resp.Done {
			evalCount = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: chat request failed: %w", err)
	}

	return &Response{
		Content: content.String(),
		Model:   h.model,
		Metadata: map[string]any{
			"eval_count": evalCount,
		},
	}, nil
}

func (h *OllamaHandler) Info() map[string]string {
	return h.params
}
