package vector

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"

	"github.com/tidegate/interact/embeddings"
)

// WeaviateStore stores records in a Weaviate instance. Vectors are computed
// client-side, so classes are created by auto-schema with vectorizer "none".
// Connection parameters: "host", "port", "scheme" and optional "api_key".
type WeaviateStore struct {
	client   *weaviate.Client
	embedder embeddings.Provider
	params   map[string]string
}

var _ Handler = &WeaviateStore{}

func NewWeaviate(embedder embeddings.Provider) *WeaviateStore {
	return &WeaviateStore{embedder: embedder}
}

func (s *WeaviateStore) Name() string { return "weaviate" }

func (s *WeaviateStore) Connect(ctx context.Context, params map[string]string) error {
	if s.embedder == nil {
		return fmt.Errorf("weaviate: no embedding provider configured")
	}

	host := params["host"]
	if host == "" {
		host = "localhost"
	}
	port := params["port"]
	if port == "" {
		port = "8080"
	}
	scheme := params["scheme"]
	if scheme == "" {
		scheme = "http"
	}

	cfg := weaviate.Config{
		Host:   host + ":" + port,
		Scheme: scheme,
	}
	if params["api_key"] != "" {
		cfg.AuthConfig = auth.ApiKey{Value: params["api_key"]}
	}
	client := weaviate.New(cfg)

	live, err := client.Misc().LiveChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: instance unreachable at %s://%s: %w", scheme, cfg.Host, err)
	}
	if !live {
		return fmt.Errorf("weaviate: instance at %s://%s is not live", scheme, cfg.Host)
	}

	s.client = client
	s.params = params
	return nil
}

func (s *WeaviateStore) Connected(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	live, err := s.client.Misc().LiveChecker().Do(ctx)
	return err == nil && live
}

func (s *WeaviateStore) Save(ctx context.Context, collection string, rec Record) error {
	if s.client == nil {
		return fmt.Errorf("weaviate: not connected, use Connect first")
	}
	doc := rec.Document()
	if doc == "" {
		return fmt.Errorf("weaviate: record must contain a prompt, response or text")
	}

	vec, err := s.embedder.GenerateEmbedding(ctx, doc)
	if err != nil {
		return fmt.Errorf("weaviate: embedding failed: %w", err)
	}

	props := map[string]any{"document": doc}
	if rec.ID != "" {
		props["record_id"] = rec.ID
	}
	for k, v := range flattenMetadata(rec.Metadata) {
		props[k] = v
	}

	creator := s.client.Data().Creator().
		WithClassName(className(collection)).
		WithProperties(props).
		WithVector(vec)
	if rec.ID != "" {
		// Weaviate object IDs must be UUIDs; derive one deterministically
		// from the record ID so saves stay idempotent.
		creator = creator.WithID(objectID(rec.ID).String())
	}

	if _, err := creator.Do(ctx); err != nil {
		return fmt.Errorf("weaviate: save failed: %w", err)
	}
	return nil
}

func (s *WeaviateStore) Get(ctx context.Context, collection string, id string) (*Record, error) {
	if s.client == nil {
		return nil, fmt.Errorf("weaviate: not connected, use Connect first")
	}

	objects, err := s.client.Data().ObjectsGetter().
		WithClassName(className(collection)).
		WithID(objectID(id).String()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: get failed: %w", err)
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("weaviate: no record with id %q in collection %q", id, collection)
	}

	props, _ := objects[0].Properties.(map[string]any)
	doc, _ := props["document"].(string)
	prompt, response, text := parseDocument(doc)

	meta := map[string]any{}
	for k, v := range props {
		if k != "document" && k != "record_id" {
			meta[k] = v
		}
	}
	return &Record{ID: id, Prompt: prompt, Response: response, Text: text, Metadata: meta}, nil
}

func (s *WeaviateStore) Search(ctx context.Context, collection string, input string, topK int) ([]string, error) {
	if s.client == nil {
		return nil, fmt.Errorf("weaviate: not connected, use Connect first")
	}

	query, err := s.embedder.GenerateEmbedding(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("weaviate: embedding failed: %w", err)
	}

	cls := className(collection)
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(query)
	result, err := s.client.GraphQL().Get().
		WithClassName(cls).
		WithFields(graphql.Field{Name: "document"}).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, gqlErr := range result.Errors {
			msgs = append(msgs, gqlErr.Message)
		}
		return nil, fmt.Errorf("weaviate: search failed: %s", strings.Join(msgs, "; "))
	}

	docs := []string{}
	get, _ := result.Data["Get"].(map[string]any)
	items, _ := get[cls].([]any)
	for _, item := range items {
		props, _ := item.(map[string]any)
		if doc, ok := props["document"].(string); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *WeaviateStore) Import(ctx context.Context, collection string, recs []Record) error {
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = "imported_" + uuid.NewString()
		}
		if err := s.Save(ctx, collection, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *WeaviateStore) Info() map[string]string {
	return s.params
}

// className maps a collection name onto a valid Weaviate class name, which
// must start with an uppercase letter.
func className(collection string) string {
	runes := []rune(collection)
	if len(runes) == 0 {
		return className(DefaultCollection)
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func objectID(recordID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID))
}
