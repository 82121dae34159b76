// Package interact unifies an LLM provider, a vector database and a
// persistent store behind a single Manager facade. Each role is filled by a
// handler selected from the settings file or passed in explicitly; all
// interaction should go through the Manager so that exchanges stay recorded
// consistently across the three backends.
package interact

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tidegate/interact/config"
	"github.com/tidegate/interact/embeddings"
	"github.com/tidegate/interact/llm"
	"github.com/tidegate/interact/store"
	"github.com/tidegate/interact/vector"
)

// Role identifies which handler a generic operation like Connect targets.
type Role string

const (
	RoleLLM        Role = "llm"
	RoleVector     Role = "vector"
	RolePersistent Role = "persistent"
)

// Manager holds one handler per role and the settings they were built from.
type Manager struct {
	mu       sync.Mutex
	settings *config.Settings
	llm      llm.Handler
	vector   vector.Handler
	store    store.Handler
	conv     *Conversation
	logger   *slog.Logger
}

// Option configures a Manager during construction.
type Option func(*Manager)

// WithLLM supplies an already-connected LLM handler instead of resolving one
// from the settings.
func WithLLM(h llm.Handler) Option { return func(m *Manager) { m.llm = h } }

// WithVector supplies an already-connected vector store handler.
func WithVector(h vector.Handler) Option { return func(m *Manager) { m.vector = h } }

// WithStore supplies an already-connected persistent store handler.
func WithStore(h store.Handler) Option { return func(m *Manager) { m.store = h } }

// WithSettings uses the given settings instead of loading the default file.
func WithSettings(s *config.Settings) Option { return func(m *Manager) { m.settings = s } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// New constructs a Manager. Handlers not supplied through options are built
// from the default selections in the settings file and connected; handlers
// supplied already-connected have their selection and connection parameters
// written back to the settings so later sessions can reuse them.
func New(ctx context.Context, opts ...Option) (*Manager, error) {
	m := &Manager{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}

	if m.settings == nil {
		path, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		m.settings, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}

	if m.llm == nil {
		h, err := m.resolveHandler(ctx, RoleLLM)
		if err != nil {
			return nil, err
		}
		if h != nil {
			m.llm = h.(llm.Handler)
		}
	} else if m.llm.Connected(ctx) {
		if err := m.adopt(RoleLLM, m.llm.Name(), m.llm.Info()); err != nil {
			return nil, err
		}
	}

	if m.vector == nil {
		h, err := m.resolveHandler(ctx, RoleVector)
		if err != nil {
			return nil, err
		}
		if h != nil {
			m.vector = h.(vector.Handler)
		}
	} else if m.vector.Connected(ctx) {
		if err := m.adopt(RoleVector, m.vector.Name(), m.vector.Info()); err != nil {
			return nil, err
		}
	}

	if m.store == nil {
		h, err := m.resolveHandler(ctx, RolePersistent)
		if err != nil {
			return nil, err
		}
		if h != nil {
			m.store = h.(store.Handler)
		}
	} else if m.store.Connected(ctx) {
		if err := m.adopt(RolePersistent, m.store.Name(), m.store.Info()); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// resolveHandler builds and connects the handler saved as the role's default
// in the settings. A role without a saved default stays unfilled until
// Connect is called for it.
func (m *Manager) resolveHandler(ctx context.Context, role Role) (any, error) {
	name := m.settings.DefaultHandler(string(role))
	if name == "" {
		m.logger.Debug("no default handler configured", "role", string(role))
		return nil, nil
	}
	params := m.settings.Handler(name)
	if params == nil {
		return nil, fmt.Errorf("%w: no parameters saved for handler %q", ErrNotConfigured, name)
	}
	return m.buildHandler(ctx, role, name, params)
}

// buildHandler constructs and connects a handler of the given provider.
func (m *Manager) buildHandler(ctx context.Context, role Role, provider string, params map[string]string) (any, error) {
	switch role {
	case RoleLLM:
		h, err := llm.New(provider)
		if err != nil {
			return nil, err
		}
		if err := h.Connect(ctx, params); err != nil {
			return nil, err
		}
		return h, nil

	case RoleVector:
		embedder, err := embeddings.New(params)
		if err != nil {
			return nil, err
		}
		h, err := vector.New(provider, embedder)
		if err != nil {
			return nil, err
		}
		if err := h.Connect(ctx, params); err != nil {
			return nil, err
		}
		return h, nil

	case RolePersistent:
		h, err := store.New(provider)
		if err != nil {
			return nil, err
		}
		if err := h.Connect(ctx, params); err != nil {
			return nil, err
		}
		return h, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// adopt saves a handler selection and its connection parameters to the
// settings file.
func (m *Manager) adopt(role Role, provider string, info map[string]string) error {
	if err := m.settings.SetDefaultHandler(string(role), provider); err != nil {
		return err
	}
	if len(info) == 0 {
		return nil
	}
	return m.settings.SetHandler(provider, info)
}

// Connect builds and connects a handler for the given role and persists the
// selection, replacing the handler currently filling the role.
func (m *Manager) Connect(ctx context.Context, role Role, provider string, params map[string]string) error {
	h, err := m.buildHandler(ctx, role, provider, params)
	if err != nil {
		return err
	}

	m.mu.Lock()
	switch role {
	case RoleLLM:
		m.llm = h.(llm.Handler)
	case RoleVector:
		m.vector = h.(vector.Handler)
	case RolePersistent:
		m.store = h.(store.Handler)
	}
	m.mu.Unlock()

	m.logger.Info("handler connected", "role", string(role), "provider", provider)
	return m.adopt(role, provider, params)
}

// handlers snapshots the three role handlers under the lock so callers can
// work against a consistent set while Connect swaps them.
func (m *Manager) handlers() (llm.Handler, vector.Handler, store.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.llm, m.vector, m.store
}

// IsConnected reports whether the handler filling the role is connected. An
// unfilled or unknown role reports false.
func (m *Manager) IsConnected(ctx context.Context, role Role) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch role {
	case RoleLLM:
		return m.llm != nil && m.llm.Connected(ctx)
	case RoleVector:
		return m.vector != nil && m.vector.Connected(ctx)
	case RolePersistent:
		return m.store != nil && m.store.Connected(ctx)
	}
	return false
}

// ReadSetting reads a key from the general section of the settings.
func (m *Manager) ReadSetting(key string) (any, error) {
	return m.settings.Get(key)
}

// WriteSetting updates a key in the general section and persists it.
func (m *Manager) WriteSetting(key string, value any) error {
	return m.settings.Set(key, value)
}

// Settings exposes the settings backing this manager.
func (m *Manager) Settings() *config.Settings {
	return m.settings
}
