package interact

import (
	"context"
	"sync"

	"github.com/tidegate/interact/store"
	"github.com/tidegate/interact/vector"
)

// The package-level functions operate on a single process-wide Manager so
// small programs can use the package without threading a Manager through
// their code. Initialize has to be called first.

var (
	defaultMu  sync.Mutex
	defaultMgr *Manager
)

// Initialize builds the process-wide Manager. Calling it again replaces the
// previous one.
func Initialize(ctx context.Context, opts ...Option) error {
	m, err := New(ctx, opts...)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultMgr = m
	defaultMu.Unlock()
	return nil
}

// Default returns the process-wide Manager, or ErrNotInitialized before
// Initialize has been called.
func Default() (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMgr == nil {
		return nil, ErrNotInitialized
	}
	return defaultMgr, nil
}

// currentConversation returns the active conversation of the process-wide
// Manager.
func currentConversation() (*Conversation, error) {
	m, err := Default()
	if err != nil {
		return nil, err
	}
	c := m.Conversation()
	if c == nil {
		return nil, ErrNoConversation
	}
	return c, nil
}

// Connect connects a handler on the process-wide Manager.
func Connect(ctx context.Context, role Role, provider string, params map[string]string) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.Connect(ctx, role, provider, params)
}

// IsConnected reports connection state on the process-wide Manager.
func IsConnected(ctx context.Context, role Role) bool {
	m, err := Default()
	if err != nil {
		return false
	}
	return m.IsConnected(ctx, role)
}

// StartConversation begins a conversation on the process-wide Manager.
func StartConversation(ctx context.Context, name string, metadata map[string]any) (*Conversation, error) {
	m, err := Default()
	if err != nil {
		return nil, err
	}
	return m.StartConversation(ctx, name, metadata)
}

// SendPrompt sends a prompt in the active conversation.
func SendPrompt(ctx context.Context, prompt string) (string, error) {
	c, err := currentConversation()
	if err != nil {
		return "", err
	}
	return c.SendPrompt(ctx, prompt)
}

// LastResponse returns the most recent response of the active conversation.
func LastResponse() (string, error) {
	c, err := currentConversation()
	if err != nil {
		return "", err
	}
	return c.LastResponse()
}

// AddMetadata attaches metadata to the active conversation or one of its
// messages.
func AddMetadata(ctx context.Context, messageID, key string, value any) error {
	c, err := currentConversation()
	if err != nil {
		return err
	}
	return c.AddMetadata(ctx, messageID, key, value)
}

// RemoveMetadata removes metadata from the active conversation or one of
// its messages.
func RemoveMetadata(ctx context.Context, messageID, key string) error {
	c, err := currentConversation()
	if err != nil {
		return err
	}
	return c.RemoveMetadata(ctx, messageID, key)
}

// ChangeComment sets the user comment on a message of the active
// conversation.
func ChangeComment(ctx context.Context, messageID, comment string) error {
	c, err := currentConversation()
	if err != nil {
		return err
	}
	return c.ChangeComment(ctx, messageID, comment)
}

// SetRAGData replaces the active retrieval data.
func SetRAGData(data map[string]string, volatile bool) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.SetRAGData(data, volatile)
}

// SetRAGMode switches the retrieval mode.
func SetRAGMode(mode RAGMode) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.SetRAGMode(mode)
}

// DeleteRAGData clears all retrieval data.
func DeleteRAGData() error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.DeleteRAGData()
}

// NearestSearch looks up the stored documents closest to the input text.
func NearestSearch(ctx context.Context, input string, topK int, collection string) ([]string, error) {
	m, err := Default()
	if err != nil {
		return nil, err
	}
	return m.NearestSearch(ctx, input, topK, collection)
}

// AddVectorData stores a record in the vector store.
func AddVectorData(ctx context.Context, rec vector.Record, collection string) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.AddVectorData(ctx, rec, collection)
}

// ImportVectors stores a batch of records in the vector store.
func ImportVectors(ctx context.Context, recs []vector.Record, collection string) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.ImportVectors(ctx, recs, collection)
}

// ImportVectorFile loads records from a file into the vector store.
func ImportVectorFile(ctx context.Context, path string, collection string) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.ImportVectorFile(ctx, path, collection)
}

// AddPersistentData stores a record directly in the persistent store.
func AddPersistentData(ctx context.Context, conv store.Conversation, msgs []store.Message) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.AddPersistentData(ctx, conv, msgs)
}

// ExportData writes stored conversations to a JSON file.
func ExportData(ctx context.Context, dir string, f store.Filter) (string, error) {
	m, err := Default()
	if err != nil {
		return "", err
	}
	return m.ExportData(ctx, dir, f)
}

// ReadSetting reads a key from the general settings.
func ReadSetting(key string) (any, error) {
	m, err := Default()
	if err != nil {
		return nil, err
	}
	return m.ReadSetting(key)
}

// WriteSetting updates a key in the general settings.
func WriteSetting(key string, value any) error {
	m, err := Default()
	if err != nil {
		return err
	}
	return m.WriteSetting(key, value)
}
