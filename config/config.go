// Package config handles the settings file that stores the selected provider
// for each handler role, the provider connection parameters, and general
// behaviour flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// General settings keys, all under the "general" section of the file.
const (
	KeyRAGMode              = "rag_mode"
	KeyDefaultRAGData       = "default_rag_data"
	KeyDefaultSystemPrompt  = "default_system_prompt"
	KeyWaitForManualComment = "wait_for_manual_comment"
	KeySendHistory          = "send_history"
	KeyDefaultExportPath    = "default_export_path"
)

var generalDefaults = map[string]any{
	KeyRAGMode:              "none",
	KeyDefaultRAGData:       map[string]string{},
	KeyDefaultSystemPrompt:  "",
	KeyWaitForManualComment: false,
	KeySendHistory:          false,
	KeyDefaultExportPath:    "",
}

// Settings is the in-memory view of the settings file. All writes go through
// it and are persisted immediately. Volatile RAG data lives only here and is
// never written to disk.
type Settings struct {
	mu       sync.Mutex
	v        *viper.Viper
	path     string
	volatile map[string]string

	// sessionRAGMode overrides the persisted RAG mode for this session.
	// The volatile mode is only ever set here, never on disk, because the
	// data it refers to does not survive the session either.
	sessionRAGMode string
}

// DefaultPath returns the per-user settings file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot locate user config directory: %w", err)
	}
	return filepath.Join(dir, "interact", "config.json"), nil
}

// Load reads the settings file at path, creating it with defaults when it
// does not exist yet.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	for key, val := range generalDefaults {
		v.SetDefault("general."+key, val)
	}
	v.SetDefault("handlers", map[string]any{})
	v.SetDefault("default_handlers", map[string]string{})

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: cannot read %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("config: cannot create %s: %w", filepath.Dir(path), err)
		}
		if err := v.WriteConfigAs(path); err != nil {
			return nil, fmt.Errorf("config: cannot write %s: %w", path, err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: cannot parse %s: %w", path, err)
	}

	return &Settings{v: v, path: path, volatile: map[string]string{}}, nil
}

// Path returns the location of the backing file.
func (s *Settings) Path() string { return s.path }

func (s *Settings) save() error {
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("config: cannot write %s: %w", s.path, err)
	}
	return nil
}

// Get reads a key from the general section. Unknown keys are rejected so
// typos do not silently grow the file.
func (s *Settings) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := generalDefaults[key]; !ok {
		return nil, fmt.Errorf("config: unknown setting %q", key)
	}
	return s.v.Get("general." + key), nil
}

// Set writes a key in the general section and persists the file.
func (s *Settings) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := generalDefaults[key]; !ok {
		return fmt.Errorf("config: unknown setting %q", key)
	}
	s.v.Set("general."+key, value)
	return s.save()
}

// RAGMode returns the active RAG mode name, preferring a session override
// over the persisted value.
func (s *Settings) RAGMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionRAGMode != "" {
		return s.sessionRAGMode
	}
	return s.v.GetString("general." + KeyRAGMode)
}

// SetRAGMode persists the RAG mode name and makes it active.
func (s *Settings) SetRAGMode(mode string) error {
	s.mu.Lock()
	s.sessionRAGMode = mode
	s.mu.Unlock()
	return s.Set(KeyRAGMode, mode)
}

// SetSessionRAGMode makes a RAG mode active for this session without
// touching the settings file.
func (s *Settings) SetSessionRAGMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionRAGMode = mode
}

// DefaultRAGData returns the RAG data persisted in the settings file.
func (s *Settings) DefaultRAGData() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetStringMapString("general." + KeyDefaultRAGData)
}

// SetDefaultRAGData persists RAG data for use across sessions.
func (s *Settings) SetDefaultRAGData(data map[string]string) error {
	return s.Set(KeyDefaultRAGData, data)
}

// VolatileRAGData returns the session-only RAG data.
func (s *Settings) VolatileRAGData() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volatile
}

// SetVolatileRAGData replaces the session-only RAG data. It is never written
// to the settings file.
func (s *Settings) SetVolatileRAGData(data map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		data = map[string]string{}
	}
	s.volatile = data
}

// SystemPrompt returns the default system prompt, empty when unset.
func (s *Settings) SystemPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString("general." + KeyDefaultSystemPrompt)
}

// WaitForManualComment reports whether callers should collect a user comment
// after each response.
func (s *Settings) WaitForManualComment() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool("general." + KeyWaitForManualComment)
}

// SendHistory reports whether previous exchanges are folded into prompts.
func (s *Settings) SendHistory() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetBool("general." + KeySendHistory)
}

// ExportPath returns the default export directory, empty when unset.
func (s *Settings) ExportPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString("general." + KeyDefaultExportPath)
}

// DefaultHandler returns the provider name saved for a role ("llm",
// "vector" or "persistent"), empty when none was selected yet.
func (s *Settings) DefaultHandler(role string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.GetString("default_handlers." + role)
}

// SetDefaultHandler persists the provider selection for a role.
func (s *Settings) SetDefaultHandler(role string, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set("default_handlers."+role, provider)
	return s.save()
}

// Handler returns the stored connection parameters for a provider, nil when
// none are stored.
func (s *Settings) Handler(provider string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	params := s.v.GetStringMapString("handlers." + provider)
	if len(params) == 0 {
		return nil
	}
	return params
}

// SetHandler merges connection parameters for a provider into the file,
// preserving keys that are not overwritten.
func (s *Settings) SetHandler(provider string, params map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.v.GetStringMapString("handlers." + provider)
	if existing == nil {
		existing = map[string]string{}
	}
	for k, v := range params {
		existing[k] = v
	}
	s.v.Set("handlers."+provider, existing)
	return s.save()
}
