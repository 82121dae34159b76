// Package vector defines the handler contract for vector databases and the
// concrete adapters that implement it.
package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidegate/interact/embeddings"
)

// DefaultCollection is the collection prompt/response exchanges are saved to
// unless the caller picks another one.
const DefaultCollection = "interact_embeddings"

// Record is one entry in a vector collection. Either Text is set, for
// documents imported from external sources, or Prompt/Response are, for
// exchanges recorded from a conversation.
type Record struct {
	ID       string
	Prompt   string
	Response string
	Text     string
	Metadata map[string]any
}

// Document renders the record as the single string that is embedded and
// stored.
func (r Record) Document() string {
	if r.Text != "" {
		return r.Text
	}
	if r.Prompt == "" && r.Response == "" {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("PROMPT: %s\nRESPONSE: %s", r.Prompt, r.Response))
}

// parseDocument splits a stored document back into prompt and response. A
// document without the prompt/response markers is returned as plain text.
func parseDocument(doc string) (prompt, response, text string) {
	pi := strings.Index(doc, "PROMPT:")
	ri := strings.Index(doc, "RESPONSE:")
	if pi < 0 || ri < 0 || ri < pi {
		return "", "", doc
	}
	prompt = strings.TrimSpace(doc[pi+len("PROMPT:") : ri])
	response = strings.TrimSpace(doc[ri+len("RESPONSE:"):])
	return prompt, response, ""
}

// Handler is the contract a vector database adapter has to fulfil.
type Handler interface {
	// Name returns the provider name used for handler selection,
	// e.g. "weaviate".
	Name() string

	// Connect establishes the client from connection parameters.
	Connect(ctx context.Context, params map[string]string) error

	// Connected reports whether the database is reachable.
	Connected(ctx context.Context) bool

	// Save stores a single record in the given collection.
	Save(ctx context.Context, collection string, rec Record) error

	// Get retrieves a record by its ID.
	Get(ctx context.Context, collection string, id string) (*Record, error)

	// Search returns the documents of the topK records nearest to input.
	Search(ctx context.Context, collection string, input string, topK int) ([]string, error)

	// Import stores a batch of records. Records without an ID are assigned
	// an imported ID.
	Import(ctx context.Context, collection string, recs []Record) error

	// Info returns the connection parameters to be saved in the settings.
	Info() map[string]string
}

// New constructs the handler registered under the given provider name,
// generating vectors with the given embedding provider.
func New(provider string, embedder embeddings.Provider) (Handler, error) {
	switch provider {
	case "weaviate":
		return NewWeaviate(embedder), nil
	case "memory":
		return NewMemory(embedder), nil
	default:
		return nil, fmt.Errorf("unknown vector provider %q", provider)
	}
}

// flattenMetadata collapses nested metadata maps into dot-free single-level
// keys, which is what the vector backends can store as properties. Nil
// values are dropped.
func flattenMetadata(meta map[string]any) map[string]any {
	flat := map[string]any{}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "_" + k
			}
			switch nested := v.(type) {
			case map[string]any:
				walk(key, nested)
			case nil:
			default:
				flat[key] = v
			}
		}
	}
	walk("", meta)
	return flat
}
