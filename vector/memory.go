package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tidegate/interact/embeddings"
)

// MemoryStore is an in-process, ephemeral vector store. Data does not
// survive the session; it backs the volatile client mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	embedder    embeddings.Provider
	collections map[string][]memoryEntry
	connected   bool
	params      map[string]string
}

type memoryEntry struct {
	id       string
	document string
	vector   []float32
	metadata map[string]any
}

var _ Handler = &MemoryStore{}

func NewMemory(embedder embeddings.Provider) *MemoryStore {
	return &MemoryStore{
		embedder:    embedder,
		collections: map[string][]memoryEntry{},
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Connect(ctx context.Context, params map[string]string) error {
	if s.embedder == nil {
		return fmt.Errorf("memory: no embedding provider configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.params = params
	return nil
}

func (s *MemoryStore) Connected(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MemoryStore) Save(ctx context.Context, collection string, rec Record) error {
	if err := s.check(); err != nil {
		return err
	}
	doc := rec.Document()
	if doc == "" {
		return fmt.Errorf("memory: record must contain a prompt, response or text")
	}

	vec, err := s.embedder.GenerateEmbedding(ctx, doc)
	if err != nil {
		return fmt.Errorf("memory: embedding failed: %w", err)
	}

	id := rec.ID
	if id == "" {
		id = gonanoid.Must()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.collections[collection]
	entry := memoryEntry{id: id, document: doc, vector: vec, metadata: flattenMetadata(rec.Metadata)}
	for i := range entries {
		if entries[i].id == id {
			entries[i] = entry
			return nil
		}
	}
	s.collections[collection] = append(entries, entry)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, collection string, id string) (*Record, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.collections[collection] {
		if e.id == id {
			prompt, response, text := parseDocument(e.document)
			return &Record{ID: e.id, Prompt: prompt, Response: response, Text: text, Metadata: e.metadata}, nil
		}
	}
	return nil, fmt.Errorf("memory: no record with id %q in collection %q", id, collection)
}

func (s *MemoryStore) Search(ctx context.Context, collection string, input string, topK int) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query, err := s.embedder.GenerateEmbedding(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("memory: embedding failed: %w", err)
	}

	s.mu.RLock()
	entries := s.collections[collection]
	type scored struct {
		doc   string
		score float64
	}
	results := make([]scored, 0, len(entries))
	for _, e := range entries {
		results = append(results, scored{doc: e.document, score: cosine(query, e.vector)})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if topK < len(results) {
		results = results[:topK]
	}

	docs := make([]string, len(results))
	for i, r := range results {
		docs[i] = r.doc
	}
	return docs, nil
}

func (s *MemoryStore) Import(ctx context.Context, collection string, recs []Record) error {
	for _, rec := range recs {
		if rec.ID == "" {
			rec.ID = "imported_" + gonanoid.Must()
		}
		if err := s.Save(ctx, collection, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Info() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

func (s *MemoryStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("memory: not connected, use Connect first")
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return -1
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
