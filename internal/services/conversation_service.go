package services

import (
	"context"
	"fmt"
	"time"

	"studentquery/internal/database"
	"studentquery/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationService persists question/answer turns and serves the bounded
// history window the LLM calls consume. Turns are append-only; Mongo's TTL
// index handles retention.
type ConversationService struct {
	collection *mongo.Collection
	window     int
}

// NewConversationService creates a conversation store with the given
// default history window
func NewConversationService(mongodb *database.MongoDB, window int) *ConversationService {
	if window <= 0 {
		window = 10
	}
	return &ConversationService{
		collection: mongodb.Collection(database.CollectionConversations),
		window:     window,
	}
}

// Append records one completed exchange for a user
func (s *ConversationService) Append(ctx context.Context, turn *models.ConversationTurn) error {
	turn.CreatedAt = time.Now()
	if _, err := s.collection.InsertOne(ctx, turn); err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return nil
}

// Recent returns the user's most recent turns, newest first, bounded by the
// configured window.
func (s *ConversationService) Recent(ctx context.Context, userID string) ([]models.ConversationTurn, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"userId": userID}, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(s.window)))
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}
	defer cursor.Close(ctx)

	var turns []models.ConversationTurn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode conversation history: %w", err)
	}
	return turns, nil
}
