package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore implements Handler on MongoDB. Conversations are stored as
// single documents with their messages embedded. Connection parameters:
// "host", "port", "database" and optional "username"/"password".
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	params map[string]string
}

var _ Handler = &MongoStore{}

const conversationsCollection = "conversations"

func (s *MongoStore) Name() string { return "mongo" }

func (s *MongoStore) Connect(ctx context.Context, params map[string]string) error {
	if params["database"] == "" {
		return fmt.Errorf("mongo: connection parameters must contain \"database\"")
	}
	host := params["host"]
	if host == "" {
		host = "localhost"
	}
	port := params["port"]
	if port == "" {
		port = "27017"
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port)
	opts := options.Client().ApplyURI(uri).SetServerSelectionTimeout(3 * time.Second)
	if params["username"] != "" {
		opts = opts.SetAuth(options.Credential{
			Username:   params["username"],
			Password:   params["password"],
			AuthSource: params["database"],
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("mongo: failed to connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("mongo: server unreachable at %s: %w", uri, err)
	}

	s.client = client
	s.db = client.Database(params["database"])
	s.params = params
	return nil
}

func (s *MongoStore) Connected(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	return s.client.Ping(ctx, readpref.Primary()) == nil
}

func (s *MongoStore) SaveRecord(ctx context.Context, conv Conversation, msgs []Message) error {
	if s.client == nil || s.db == nil {
		return fmt.Errorf("mongo: not connected, use Connect first")
	}
	if err := validateRecord(conv, msgs); err != nil {
		return err
	}

	coll := s.db.Collection(conversationsCollection)

	convDoc := bson.M{
		"name":        conv.Name,
		"description": conv.Description,
		"created_at":  conv.CreatedAt,
		"metadata":    orEmpty(conv.Metadata),
	}
	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": conv.ID},
		bson.M{"$set": convDoc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo: failed to save conversation: %w", err)
	}

	for _, msg := range msgs {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		msgDoc := bson.M{
			"message_id":   msg.ID,
			"user_prompt":  msg.Prompt,
			"llm_response": msg.Response,
			"user_comment": msg.Comment,
			"timestamp":    ts,
			"metadata":     orEmpty(msg.Metadata),
		}

		// Replace the embedded message when it already exists, append
		// otherwise.
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": conv.ID, "messages.message_id": msg.ID},
			bson.M{"$set": bson.M{"messages.$": msgDoc}},
		)
		if err != nil {
			return fmt.Errorf("mongo: failed to update message: %w", err)
		}
		if res.MatchedCount == 0 {
			_, err = coll.UpdateOne(ctx,
				bson.M{"_id": conv.ID},
				bson.M{"$push": bson.M{"messages": msgDoc}},
			)
			if err != nil {
				return fmt.Errorf("mongo: failed to append message: %w", err)
			}
		}
	}
	return nil
}

func (s *MongoStore) Records(ctx context.Context, f Filter) ([]Conversation, error) {
	if s.client == nil || s.db == nil {
		return nil, fmt.Errorf("mongo: not connected, use Connect first")
	}

	mongoFilter := bson.M{}
	if f.ConversationID != "" {
		mongoFilter["_id"] = f.ConversationID
	}

	cursor, err := s.db.Collection(conversationsCollection).Find(ctx, mongoFilter)
	if err != nil {
		return nil, fmt.Errorf("mongo: failed to query conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var result []Conversation
	for cursor.Next(ctx) {
		var doc struct {
			ID          string         `bson:"_id"`
			Name        string         `bson:"name"`
			Description string         `bson:"description"`
			CreatedAt   time.Time      `bson:"created_at"`
			Metadata    map[string]any `bson:"metadata"`
			Messages    []struct {
				ID        string         `bson:"message_id"`
				Prompt    string         `bson:"user_prompt"`
				Response  string         `bson:"llm_response"`
				Comment   string         `bson:"user_comment"`
				Timestamp time.Time      `bson:"timestamp"`
				Metadata  map[string]any `bson:"metadata"`
			} `bson:"messages"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: failed to decode conversation: %w", err)
		}

		conv := Conversation{
			ID:          doc.ID,
			Name:        doc.Name,
			Description: doc.Description,
			CreatedAt:   doc.CreatedAt,
			Metadata:    doc.Metadata,
			Messages:    []Message{},
		}
		for _, m := range doc.Messages {
			if f.MessageID != "" && m.ID != f.MessageID {
				continue
			}
			if f.PromptContains != "" && !containsFold(m.Prompt, f.PromptContains) {
				continue
			}
			if f.ResponseContains != "" && !containsFold(m.Response, f.ResponseContains) {
				continue
			}
			conv.Messages = append(conv.Messages, Message{
				ID:             m.ID,
				ConversationID: doc.ID,
				Prompt:         m.Prompt,
				Response:       m.Response,
				Comment:        m.Comment,
				Timestamp:      m.Timestamp,
				Metadata:       m.Metadata,
			})
		}

		messageFiltered := f.MessageID != "" || f.PromptContains != "" || f.ResponseContains != ""
		if messageFiltered && len(conv.Messages) == 0 {
			continue
		}
		result = append(result, conv)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongo: error iterating conversations: %w", err)
	}
	return result, nil
}

// SelectDatabase switches the active database on the connected server.
func (s *MongoStore) SelectDatabase(ctx context.Context, name string) error {
	if s.client == nil {
		return fmt.Errorf("mongo: not connected, use Connect first")
	}
	s.db = s.client.Database(name)
	return nil
}

func (s *MongoStore) Info() map[string]string {
	return s.params
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
