// Package llm defines the handler contract for language-model providers and
// the concrete adapters that implement it.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Handler is the contract a language-model adapter has to fulfil. Only the
// operations below are relied upon by the rest of the codebase.
type Handler interface {
	// Name returns the provider name used for handler selection,
	// e.g. "openai".
	Name() string

	// Connect establishes the provider client from connection parameters.
	// Required keys are provider-specific; all providers require "model".
	Connect(ctx context.Context, params map[string]string) error

	// Connected reports whether the provider is reachable.
	Connected(ctx context.Context) bool

	// ValidateModel checks whether the model exists within the provider.
	ValidateModel(ctx context.Context, model string) (bool, error)

	// Complete sends a prompt, optionally enriched with context documents,
	// and returns the completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Info returns the connection parameters to be saved in the settings.
	Info() map[string]string
}

// Request describes one completion call.
type Request struct {
	// System is an optional system prompt prepended to the exchange.
	System string

	// Prompt is the user prompt.
	Prompt string

	// Context holds auxiliary documents or prior conversation pieces the
	// model should consider when answering.
	Context []string

	// Schema, when non-nil, is a JSON schema the response must conform to.
	// SchemaName names it for providers that require a label.
	Schema     any
	SchemaName string
}

// Response is the completion returned by a provider.
type Response struct {
	Content  string
	Model    string
	Metadata map[string]any
}

// New constructs the handler registered under the given provider name. The
// handler still has to be connected before use.
func New(provider string) (Handler, error) {
	switch provider {
	case "openai":
		return &OpenAIHandler{}, nil
	case "ollama":
		return &OllamaHandler{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// ContextPrompt merges context documents into the user prompt. Providers use
// it so that every backend receives the same enriched prompt shape.
func ContextPrompt(prompt string, docs []string) string {
	if len(docs) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Use the following documents or previous conversation pieces to answer the question. Documents:\n")
	b.WriteString(strings.Join(docs, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(prompt)
	return b.String()
}
