package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Handler on a local SQLite file. Connection
// parameter: "path".
type SQLiteStore struct {
	db     *sql.DB
	params map[string]string
}

var _ Handler = &SQLiteStore{}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Connect(ctx context.Context, params map[string]string) error {
	path := params["path"]
	if path == "" {
		return fmt.Errorf("sqlite: connection parameters must contain \"path\"")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("sqlite: failed to connect to database: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("sqlite: failed to initialize database: %w", err)
	}

	if s.db != nil {
		s.db.Close()
	}
	s.db = db
	s.params = params
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		created_at TIMESTAMP,
		metadata TEXT
	);
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		user_prompt TEXT,
		llm_response TEXT,
		user_comment TEXT,
		timestamp TIMESTAMP,
		metadata TEXT
	);`

	_, err := db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Connected(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	return s.db.PingContext(ctx) == nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, conv Conversation, msgs []Message) error {
	if s.db == nil {
		return fmt.Errorf("sqlite: not connected, use Connect first")
	}
	if err := validateRecord(conv, msgs); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	convMeta, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: cannot encode conversation metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO conversations (id, name, description, created_at, metadata)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		metadata = excluded.metadata
	`, conv.ID, conv.Name, conv.Description, conv.CreatedAt, string(convMeta))
	if err != nil {
		return fmt.Errorf("sqlite: failed to save conversation: %w", err)
	}

	for _, msg := range msgs {
		msgMeta, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("sqlite: cannot encode message metadata: %w", err)
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}

		_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_prompt, llm_response, user_comment, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_prompt = excluded.user_prompt,
			llm_response = excluded.llm_response,
			user_comment = excluded.user_comment,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata
		`, msg.ID, conv.ID, msg.Prompt, msg.Response, msg.Comment, ts, string(msgMeta))
		if err != nil {
			return fmt.Errorf("sqlite: failed to save message: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Records(ctx context.Context, f Filter) ([]Conversation, error) {
	if s.db == nil {
		return nil, fmt.Errorf("sqlite: not connected, use Connect first")
	}

	query := `
	SELECT
		c.id, c.name, c.description, c.created_at, c.metadata,
		m.id, m.user_prompt, m.llm_response, m.user_comment, m.timestamp, m.metadata
	FROM conversations c
	LEFT JOIN messages m ON c.id = m.conversation_id
	`
	conditions := []string{}
	args := []any{}

	if f.ConversationID != "" {
		conditions = append(conditions, "c.id = ?")
		args = append(args, f.ConversationID)
	}
	if f.MessageID != "" {
		conditions = append(conditions, "m.id = ?")
		args = append(args, f.MessageID)
	}
	if f.PromptContains != "" {
		conditions = append(conditions, "m.user_prompt LIKE ? COLLATE NOCASE")
		args = append(args, "%"+f.PromptContains+"%")
	}
	if f.ResponseContains != "" {
		conditions = append(conditions, "m.llm_response LIKE ? COLLATE NOCASE")
		args = append(args, "%"+f.ResponseContains+"%")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.created_at, m.timestamp"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query records: %w", err)
	}
	defer rows.Close()

	byID := map[string]*Conversation{}
	order := []string{}

	for rows.Next() {
		var (
			conv                    Conversation
			convMeta                sql.NullString
			msgID, prompt, response sql.NullString
			comment, msgMeta        sql.NullString
			ts                      sql.NullTime
		)
		if err := rows.Scan(&conv.ID, &conv.Name, &conv.Description, &conv.CreatedAt, &convMeta,
			&msgID, &prompt, &response, &comment, &ts, &msgMeta); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan row: %w", err)
		}

		existing, ok := byID[conv.ID]
		if !ok {
			if convMeta.Valid && convMeta.String != "" {
				_ = json.Unmarshal([]byte(convMeta.String), &conv.Metadata)
			}
			conv.Messages = []Message{}
			byID[conv.ID] = &conv
			order = append(order, conv.ID)
			existing = &conv
		}

		if msgID.Valid {
			msg := Message{
				ID:             msgID.String,
				ConversationID: existing.ID,
				Prompt:         prompt.String,
				Response:       response.String,
				Comment:        comment.String,
			}
			if ts.Valid {
				msg.Timestamp = ts.Time
			}
			if msgMeta.Valid && msgMeta.String != "" {
				_ = json.Unmarshal([]byte(msgMeta.String), &msg.Metadata)
			}
			existing.Messages = append(existing.Messages, msg)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating rows: %w", err)
	}

	result := make([]Conversation, 0, len(order))
	for _, id := range order {
		result = append(result, *byID[id])
	}
	return result, nil
}

// SelectDatabase reopens the store at another file path.
func (s *SQLiteStore) SelectDatabase(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("sqlite: not connected, use Connect first")
	}
	params := map[string]string{}
	for k, v := range s.params {
		params[k] = v
	}
	params["path"] = name
	return s.Connect(ctx, params)
}

func (s *SQLiteStore) Info() map[string]string {
	return s.params
}
