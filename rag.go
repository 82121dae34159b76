package interact

import (
	"context"
	"fmt"

	"github.com/tidegate/interact/vector"
)

// RAGMode selects where retrieval data for prompts comes from.
type RAGMode int

const (
	// RAGNone sends prompts without retrieval data.
	RAGNone RAGMode = iota
	// RAGPersistent uses the retrieval data stored in the settings file.
	RAGPersistent
	// RAGVolatile uses in-memory retrieval data that is discarded when the
	// process exits.
	RAGVolatile
	// RAGDynamic looks up the nearest stored documents for each prompt.
	RAGDynamic
)

// String returns the mode name as stored in the settings.
func (m RAGMode) String() string {
	switch m {
	case RAGNone:
		return "none"
	case RAGPersistent:
		return "persistent"
	case RAGVolatile:
		return "volatile"
	case RAGDynamic:
		return "dynamic"
	}
	return fmt.Sprintf("RAGMode(%d)", int(m))
}

// ParseRAGMode converts a settings value to a RAGMode.
func ParseRAGMode(s string) (RAGMode, error) {
	switch s {
	case "", "none":
		return RAGNone, nil
	case "persistent":
		return RAGPersistent, nil
	case "volatile":
		return RAGVolatile, nil
	case "dynamic":
		return RAGDynamic, nil
	}
	return RAGNone, fmt.Errorf("unknown RAG mode %q", s)
}

// SetRAGData replaces the active retrieval data and switches to the matching
// mode. Volatile data lives only in memory and activates the volatile mode
// for this session without touching the mode stored in the settings file;
// otherwise the data and the persistent mode are written to the settings.
func (m *Manager) SetRAGData(data map[string]string, volatile bool) error {
	if len(data) == 0 {
		return ErrNoRAGData
	}
	if volatile {
		m.settings.SetVolatileRAGData(data)
		m.settings.SetSessionRAGMode(RAGVolatile.String())
		return nil
	}
	m.settings.SetSessionRAGMode("")
	if err := m.settings.SetDefaultRAGData(data); err != nil {
		return err
	}
	return m.settings.SetRAGMode(RAGPersistent.String())
}

// SetRAGMode switches the retrieval mode. Modes that read from stored data
// are rejected while that data is empty.
func (m *Manager) SetRAGMode(mode RAGMode) error {
	switch mode {
	case RAGPersistent:
		if len(m.settings.DefaultRAGData()) == 0 {
			return fmt.Errorf("%w: no persistent retrieval data set", ErrNoRAGData)
		}
	case RAGVolatile:
		if len(m.settings.VolatileRAGData()) == 0 {
			return fmt.Errorf("%w: no volatile retrieval data set", ErrNoRAGData)
		}
		m.settings.SetSessionRAGMode(mode.String())
		return nil
	}
	// Leaving the volatile mode also drops its session override.
	m.settings.SetSessionRAGMode("")
	return m.settings.SetRAGMode(mode.String())
}

// RAGMode returns the mode currently in effect.
func (m *Manager) RAGMode() (RAGMode, error) {
	return ParseRAGMode(m.settings.RAGMode())
}

// DeleteRAGData clears both the volatile and the persistent retrieval data
// and falls back to sending prompts without retrieval context.
func (m *Manager) DeleteRAGData() error {
	m.settings.SetVolatileRAGData(nil)
	m.settings.SetSessionRAGMode("")
	if err := m.settings.SetDefaultRAGData(map[string]string{}); err != nil {
		return err
	}
	return m.settings.SetRAGMode(RAGNone.String())
}

// NearestSearch returns the topK stored documents closest to the input text.
// An empty collection targets the default collection.
func (m *Manager) NearestSearch(ctx context.Context, input string, topK int, collection string) ([]string, error) {
	if !m.IsConnected(ctx, RoleVector) {
		return nil, fmt.Errorf("%w: vector handler", ErrNotConnected)
	}
	if topK <= 0 {
		topK = 10
	}
	if collection == "" {
		collection = vector.DefaultCollection
	}
	_, vh, _ := m.handlers()
	return vh.Search(ctx, collection, input, topK)
}

// AddVectorData embeds and stores a single record in the vector store.
func (m *Manager) AddVectorData(ctx context.Context, rec vector.Record, collection string) error {
	if !m.IsConnected(ctx, RoleVector) {
		return fmt.Errorf("%w: vector handler", ErrNotConnected)
	}
	if collection == "" {
		collection = vector.DefaultCollection
	}
	_, vh, _ := m.handlers()
	return vh.Save(ctx, collection, rec)
}

// ImportVectors embeds and stores a batch of records in the vector store.
func (m *Manager) ImportVectors(ctx context.Context, recs []vector.Record, collection string) error {
	if !m.IsConnected(ctx, RoleVector) {
		return fmt.Errorf("%w: vector handler", ErrNotConnected)
	}
	if collection == "" {
		collection = vector.DefaultCollection
	}
	_, vh, _ := m.handlers()
	return vh.Import(ctx, collection, recs)
}

// ImportVectorFile loads records from a JSON, YAML or plain-text file and
// stores them in the vector store.
func (m *Manager) ImportVectorFile(ctx context.Context, path string, collection string) error {
	if !m.IsConnected(ctx, RoleVector) {
		return fmt.Errorf("%w: vector handler", ErrNotConnected)
	}
	if collection == "" {
		collection = vector.DefaultCollection
	}
	_, vh, _ := m.handlers()
	return vector.ImportFile(ctx, vh, collection, path)
}
