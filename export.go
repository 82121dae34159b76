package interact

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidegate/interact/store"
)

// ExportData writes all stored conversations matching the filter to a JSON
// file and returns its path. An empty dir falls back to the export path from
// the settings, then to the working directory.
func (m *Manager) ExportData(ctx context.Context, dir string, f store.Filter) (string, error) {
	if !m.IsConnected(ctx, RolePersistent) {
		return "", fmt.Errorf("%w: persistent handler", ErrNotConnected)
	}

	_, _, sh := m.handlers()
	convs, err := sh.Records(ctx, f)
	if err != nil {
		return "", fmt.Errorf("reading records: %w", err)
	}

	if dir == "" {
		dir = m.settings.ExportPath()
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := "interact_export_" + time.Now().Format("20060102_150405") + ".json"
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(convs, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	m.logger.Info("conversations exported", "path", path, "conversations", len(convs))
	return path, nil
}

// AddPersistentData stores a record directly in the persistent store,
// outside of any conversation.
func (m *Manager) AddPersistentData(ctx context.Context, conv store.Conversation, msgs []store.Message) error {
	if !m.IsConnected(ctx, RolePersistent) {
		return fmt.Errorf("%w: persistent handler", ErrNotConnected)
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	_, _, sh := m.handlers()
	return sh.SaveRecord(ctx, conv, msgs)
}

// Records reads stored conversations matching the filter.
func (m *Manager) Records(ctx context.Context, f store.Filter) ([]store.Conversation, error) {
	if !m.IsConnected(ctx, RolePersistent) {
		return nil, fmt.Errorf("%w: persistent handler", ErrNotConnected)
	}
	_, _, sh := m.handlers()
	return sh.Records(ctx, f)
}
