// Package store defines the handler contract for persistent conversation
// storage and the concrete adapters that implement it.
package store

import (
	"context"
	"fmt"
	"time"
)

// Conversation is a stored conversation together with its messages.
type Conversation struct {
	ID          string         `json:"conversation_id"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Messages    []Message      `json:"messages"`
}

// Message is one stored prompt/response exchange.
type Message struct {
	ID             string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	Prompt         string         `json:"user_prompt"`
	Response       string         `json:"llm_response"`
	Comment        string         `json:"user_comment,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Filter narrows the records returned by Handler.Records. Zero-value fields
// are ignored; Contains fields match case-insensitive substrings.
type Filter struct {
	ConversationID   string
	MessageID        string
	PromptContains   string
	ResponseContains string
}

// Handler is the contract a persistent store adapter has to fulfil.
type Handler interface {
	// Name returns the provider name used for handler selection,
	// e.g. "postgres".
	Name() string

	// Connect establishes the client from connection parameters.
	Connect(ctx context.Context, params map[string]string) error

	// Connected reports whether the store is reachable.
	Connected(ctx context.Context) bool

	// SaveRecord upserts the conversation and its messages, keyed by their
	// IDs. Passing both guarantees the messages stay linked to their
	// conversation.
	SaveRecord(ctx context.Context, conv Conversation, msgs []Message) error

	// Records returns the conversations matching the filter, each with its
	// messages nested. A zero filter returns everything.
	Records(ctx context.Context, f Filter) ([]Conversation, error)

	// SelectDatabase switches the active database after connection.
	SelectDatabase(ctx context.Context, name string) error

	// Info returns the connection parameters to be saved in the settings.
	Info() map[string]string
}

// New constructs the handler registered under the given provider name. The
// handler still has to be connected before use.
func New(provider string) (Handler, error) {
	switch provider {
	case "postgres":
		return &PostgresStore{}, nil
	case "sqlite":
		return &SQLiteStore{}, nil
	case "mongo":
		return &MongoStore{}, nil
	default:
		return nil, fmt.Errorf("unknown persistent provider %q", provider)
	}
}

func validateRecord(conv Conversation, msgs []Message) error {
	if conv.ID == "" {
		return fmt.Errorf("store: conversation must have an ID")
	}
	for _, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("store: every message must have an ID")
		}
	}
	return nil
}
