package interact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tidegate/interact/llm"
	"github.com/tidegate/interact/store"
	"github.com/tidegate/interact/vector"
)

// Exchange is a single prompt/response pair inside a conversation, together
// with the retrieval data that was in effect when the prompt was sent.
type Exchange struct {
	ID        string
	Prompt    string
	Response  string
	Comment   string
	RAGData   []string
	Metadata  map[string]any
	Timestamp time.Time
}

// Conversation tracks an ongoing exchange with the LLM and mirrors every
// completed exchange into the persistent and vector stores.
type Conversation struct {
	mu        sync.Mutex
	id        string
	name      string
	createdAt time.Time
	metadata  map[string]any
	history   []Exchange
	mgr       *Manager
}

// StartConversation begins a new conversation with optional initial
// metadata. All three handlers have to be connected; a conversation started
// while a previous one is active simply replaces it as the manager's current
// conversation.
func (m *Manager) StartConversation(ctx context.Context, name string, metadata map[string]any) (*Conversation, error) {
	for _, role := range []Role{RoleLLM, RoleVector, RolePersistent} {
		if !m.IsConnected(ctx, role) {
			return nil, fmt.Errorf("%w: %s handler", ErrNotConnected, role)
		}
	}

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	c := &Conversation{
		id:        "conv_" + uuid.NewString(),
		name:      name,
		createdAt: time.Now().UTC(),
		metadata:  meta,
		mgr:       m,
	}

	m.mu.Lock()
	m.conv = c
	m.mu.Unlock()

	m.logger.Info("conversation started", "conversation_id", c.id, "name", name)
	return c, nil
}

// Conversation returns the manager's current conversation, or nil.
func (m *Manager) Conversation() *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// History returns a copy of the completed exchanges so far.
func (c *Conversation) History() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, len(c.history))
	copy(out, c.history)
	return out
}

// LastResponse returns the response of the most recent exchange.
func (c *Conversation) LastResponse() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return "", ErrNoMessage
	}
	return c.history[len(c.history)-1].Response, nil
}

// SendPrompt sends a prompt through the LLM handler, augmented with the
// active retrieval data and, when enabled, the relevant part of the
// conversation so far. The completed exchange is appended to the history and
// persisted to both stores before the response is returned.
func (c *Conversation) SendPrompt(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt must not be empty")
	}

	docs, err := c.contextDocuments(ctx, prompt)
	if err != nil {
		return "", err
	}

	lh, _, _ := c.mgr.handlers()
	resp, err := lh.Complete(ctx, llm.Request{
		System:  c.mgr.settings.SystemPrompt(),
		Prompt:  prompt,
		Context: docs,
	})
	if err != nil {
		return "", fmt.Errorf("completing prompt: %w", err)
	}

	ex := Exchange{
		ID:        "msg_" + gonanoid.Must(),
		Prompt:    prompt,
		Response:  resp.Content,
		RAGData:   docs,
		Metadata:  map[string]any{"model": resp.Model},
		Timestamp: time.Now().UTC(),
	}
	for k, v := range resp.Metadata {
		ex.Metadata[k] = v
	}

	c.mu.Lock()
	c.history = append(c.history, ex)
	c.mu.Unlock()

	if err := c.persistLast(ctx); err != nil {
		return resp.Content, err
	}
	return resp.Content, nil
}

// contextDocuments assembles the documents handed to the LLM for one prompt:
// relevant history first, then the retrieval data selected by the active RAG
// mode.
func (c *Conversation) contextDocuments(ctx context.Context, prompt string) ([]string, error) {
	var docs []string

	if c.mgr.settings.SendHistory() {
		for _, ex := range c.relevantHistory(ctx, prompt) {
			docs = append(docs,
				"PREVIOUS PROMPT: "+ex.Prompt,
				"PREVIOUS RESPONSE: "+ex.Response)
		}
	}

	mode, err := ParseRAGMode(c.mgr.settings.RAGMode())
	if err != nil {
		return nil, err
	}
	switch mode {
	case RAGNone:
	case RAGPersistent:
		docs = append(docs, sortedValues(c.mgr.settings.DefaultRAGData())...)
	case RAGVolatile:
		docs = append(docs, sortedValues(c.mgr.settings.VolatileRAGData())...)
	case RAGDynamic:
		_, vh, _ := c.mgr.handlers()
		found, err := vh.Search(ctx, vector.DefaultCollection, prompt, 10)
		if err != nil {
			return nil, fmt.Errorf("retrieving context: %w", err)
		}
		docs = append(docs, found...)
	}
	return docs, nil
}

// sortedValues returns map values in key order so context stays stable
// between calls.
func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, m[k])
	}
	return vals
}

// persistLast writes the most recent exchange to the persistent store and
// indexes it in the vector store.
func (c *Conversation) persistLast(ctx context.Context) error {
	c.mu.Lock()
	if len(c.history) == 0 {
		c.mu.Unlock()
		return ErrNoMessage
	}
	ex := c.history[len(c.history)-1]
	conv := c.record()
	c.mu.Unlock()

	msg := store.Message{
		ID:             ex.ID,
		ConversationID: c.id,
		Prompt:         ex.Prompt,
		Response:       ex.Response,
		Comment:        ex.Comment,
		Timestamp:      ex.Timestamp,
		Metadata:       ex.Metadata,
	}
	_, vh, sh := c.mgr.handlers()
	if err := sh.SaveRecord(ctx, conv, []store.Message{msg}); err != nil {
		return fmt.Errorf("persisting exchange: %w", err)
	}

	rec := vector.Record{
		ID:       ex.ID,
		Prompt:   ex.Prompt,
		Response: ex.Response,
		Metadata: map[string]any{"conversation_id": c.id},
	}
	if err := vh.Save(ctx, vector.DefaultCollection, rec); err != nil {
		return fmt.Errorf("indexing exchange: %w", err)
	}
	return nil
}

// record builds the store representation of the conversation header. Callers
// hold c.mu.
func (c *Conversation) record() store.Conversation {
	meta := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	return store.Conversation{
		ID:        c.id,
		Name:      c.name,
		CreatedAt: c.createdAt,
		Metadata:  meta,
	}
}

// AddMetadata attaches a metadata entry to the conversation or, when
// messageID is non-empty, to that message. The change is persisted
// immediately.
func (c *Conversation) AddMetadata(ctx context.Context, messageID, key string, value any) error {
	_, _, sh := c.mgr.handlers()

	c.mu.Lock()
	if messageID == "" {
		c.metadata[key] = value
		conv := c.record()
		c.mu.Unlock()
		return sh.SaveRecord(ctx, conv, nil)
	}

	idx := -1
	for i := range c.history {
		if c.history[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoMessage, messageID)
	}
	if c.history[idx].Metadata == nil {
		c.history[idx].Metadata = map[string]any{}
	}
	c.history[idx].Metadata[key] = value
	msg := c.storeMessage(c.history[idx])
	conv := c.record()
	c.mu.Unlock()

	return sh.SaveRecord(ctx, conv, []store.Message{msg})
}

// protectedMetadataKeys cannot be removed because downstream filtering and
// export rely on them.
var protectedMetadataKeys = map[string]bool{
	"model": true,
}

// RemoveMetadata deletes a metadata entry from the conversation or, when
// messageID is non-empty, from that message.
func (c *Conversation) RemoveMetadata(ctx context.Context, messageID, key string) error {
	if protectedMetadataKeys[key] {
		return fmt.Errorf("metadata key %q cannot be removed", key)
	}

	_, _, sh := c.mgr.handlers()

	c.mu.Lock()
	if messageID == "" {
		delete(c.metadata, key)
		conv := c.record()
		c.mu.Unlock()
		return sh.SaveRecord(ctx, conv, nil)
	}

	for i := range c.history {
		if c.history[i].ID != messageID {
			continue
		}
		delete(c.history[i].Metadata, key)
		msg := c.storeMessage(c.history[i])
		conv := c.record()
		c.mu.Unlock()
		return sh.SaveRecord(ctx, conv, []store.Message{msg})
	}
	c.mu.Unlock()
	return fmt.Errorf("%w: %q", ErrNoMessage, messageID)
}

// ChangeComment sets the user comment on a message. An empty messageID
// targets the most recent exchange.
func (c *Conversation) ChangeComment(ctx context.Context, messageID, comment string) error {
	_, _, sh := c.mgr.handlers()

	c.mu.Lock()
	if len(c.history) == 0 {
		c.mu.Unlock()
		return ErrNoMessage
	}
	idx := len(c.history) - 1
	if messageID != "" {
		idx = -1
		for i := range c.history {
			if c.history[i].ID == messageID {
				idx = i
				break
			}
		}
		if idx < 0 {
			c.mu.Unlock()
			return fmt.Errorf("%w: %q", ErrNoMessage, messageID)
		}
	}
	c.history[idx].Comment = comment
	msg := c.storeMessage(c.history[idx])
	conv := c.record()
	c.mu.Unlock()

	return sh.SaveRecord(ctx, conv, []store.Message{msg})
}

// storeMessage converts an exchange to its store representation. Callers
// hold c.mu.
func (c *Conversation) storeMessage(ex Exchange) store.Message {
	return store.Message{
		ID:             ex.ID,
		ConversationID: c.id,
		Prompt:         ex.Prompt,
		Response:       ex.Response,
		Comment:        ex.Comment,
		Timestamp:      ex.Timestamp,
		Metadata:       ex.Metadata,
	}
}
