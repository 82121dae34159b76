package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// PostgresStore implements Handler on PostgreSQL via gorm. Connection
// parameters: "host", "port", "user", "password", "database" and optional
// "sslmode".
type PostgresStore struct {
	db     *gorm.DB
	params map[string]string
}

var _ Handler = &PostgresStore{}

type conversationRow struct {
	ID          string    `gorm:"primaryKey;column:id"`
	Name        string    `gorm:"column:name"`
	Description string    `gorm:"column:description"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	Metadata    string    `gorm:"column:metadata;type:jsonb;default:'{}'"`
}

func (conversationRow) TableName() string { return "conversations" }

type messageRow struct {
	ID             string    `gorm:"primaryKey;column:id"`
	ConversationID string    `gorm:"column:conversation_id;index"`
	Prompt         string    `gorm:"column:user_prompt"`
	Response       string    `gorm:"column:llm_response"`
	Comment        string    `gorm:"column:user_comment"`
	Timestamp      time.Time `gorm:"column:timestamp"`
	Metadata       string    `gorm:"column:metadata;type:jsonb;default:'{}'"`
}

func (messageRow) TableName() string { return "messages" }

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Connect(ctx context.Context, params map[string]string) error {
	for _, key := range []string{"host", "user", "database"} {
		if params[key] == "" {
			return fmt.Errorf("postgres: connection parameters must contain %q", key)
		}
	}
	port := params["port"]
	if port == "" {
		port = "5432"
	}
	sslmode := params["sslmode"]
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params["host"], port, params["user"], params["password"], params["database"], sslmode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("postgres: failed to open connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres: failed to access connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: failed to connect: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&conversationRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("postgres: failed to migrate schema: %w", err)
	}

	s.db = db
	s.params = params
	return nil
}

func (s *PostgresStore) Connected(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, conv Conversation, msgs []Message) error {
	if s.db == nil {
		return fmt.Errorf("postgres: not connected, use Connect first")
	}
	if err := validateRecord(conv, msgs); err != nil {
		return err
	}

	convMeta, err := json.Marshal(orEmpty(conv.Metadata))
	if err != nil {
		return fmt.Errorf("postgres: cannot encode conversation metadata: %w", err)
	}

	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "description", "metadata",
			}),
		}).Create(&conversationRow{
			ID:          conv.ID,
			Name:        conv.Name,
			Description: conv.Description,
			CreatedAt:   createdAt,
			Metadata:    string(convMeta),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to save conversation: %w", err)
		}

		for _, msg := range msgs {
			msgMeta, err := json.Marshal(orEmpty(msg.Metadata))
			if err != nil {
				return fmt.Errorf("cannot encode message metadata: %w", err)
			}
			ts := msg.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}

			err = tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"user_prompt", "llm_response", "user_comment", "timestamp", "metadata",
				}),
			}).Create(&messageRow{
				ID:             msg.ID,
				ConversationID: conv.ID,
				Prompt:         msg.Prompt,
				Response:       msg.Response,
				Comment:        msg.Comment,
				Timestamp:      ts,
				Metadata:       string(msgMeta),
			}).Error
			if err != nil {
				return fmt.Errorf("failed to save message: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Records(ctx context.Context, f Filter) ([]Conversation, error) {
	if s.db == nil {
		return nil, fmt.Errorf("postgres: not connected, use Connect first")
	}

	var convRows []conversationRow
	convQuery := s.db.WithContext(ctx).Model(&conversationRow{}).Order("created_at")
	if f.ConversationID != "" {
		convQuery = convQuery.Where("id = ?", f.ConversationID)
	}
	if err := convQuery.Find(&convRows).Error; err != nil {
		return nil, fmt.Errorf("postgres: failed to query conversations: %w", err)
	}

	result := make([]Conversation, 0, len(convRows))
	for _, cr := range convRows {
		msgQuery := s.db.WithContext(ctx).Model(&messageRow{}).
			Where("conversation_id = ?", cr.ID).Order("timestamp")
		if f.MessageID != "" {
			msgQuery = msgQuery.Where("id = ?", f.MessageID)
		}
		if f.PromptContains != "" {
			msgQuery = msgQuery.Where("user_prompt ILIKE ?", "%"+f.PromptContains+"%")
		}
		if f.ResponseContains != "" {
			msgQuery = msgQuery.Where("llm_response ILIKE ?", "%"+f.ResponseContains+"%")
		}

		var msgRows []messageRow
		if err := msgQuery.Find(&msgRows).Error; err != nil {
			return nil, fmt.Errorf("postgres: failed to query messages: %w", err)
		}

		messageFiltered := f.MessageID != "" || f.PromptContains != "" || f.ResponseContains != ""
		if messageFiltered && len(msgRows) == 0 {
			continue
		}

		conv := Conversation{
			ID:          cr.ID,
			Name:        cr.Name,
			Description: cr.Description,
			CreatedAt:   cr.CreatedAt,
			Messages:    make([]Message, 0, len(msgRows)),
		}
		if cr.Metadata != "" {
			_ = json.Unmarshal([]byte(cr.Metadata), &conv.Metadata)
		}
		for _, mr := range msgRows {
			msg := Message{
				ID:             mr.ID,
				ConversationID: mr.ConversationID,
				Prompt:         mr.Prompt,
				Response:       mr.Response,
				Comment:        mr.Comment,
				Timestamp:      mr.Timestamp,
			}
			if mr.Metadata != "" {
				_ = json.Unmarshal([]byte(mr.Metadata), &msg.Metadata)
			}
			conv.Messages = append(conv.Messages, msg)
		}
		result = append(result, conv)
	}
	return result, nil
}

// SelectDatabase reconnects against another database on the same server.
func (s *PostgresStore) SelectDatabase(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("postgres: not connected, use Connect first")
	}
	params := map[string]string{}
	for k, v := range s.params {
		params[k] = v
	}
	params["database"] = name
	return s.Connect(ctx, params)
}

func (s *PostgresStore) Info() map[string]string {
	return s.params
}

func orEmpty(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
