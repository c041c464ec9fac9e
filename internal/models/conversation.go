package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConversationTurn is one (question, answer) exchange for a user.
// Append-only, queried newest-first with a bounded window to build LLM context.
type ConversationTurn struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID        string             `bson:"userId" json:"user_id"`
	CorrelationID string             `bson:"correlationId,omitempty" json:"correlation_id,omitempty"`
	Question      string             `bson:"question" json:"question"`
	Answer        string             `bson:"answer" json:"answer"`
	CreatedAt     time.Time          `bson:"createdAt" json:"created_at"`
}
