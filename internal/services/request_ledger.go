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

// Ledger is the durable request record store keyed by correlation id.
// The record must exist before any result can be appended to it; the
// append and the completion transition are each atomic, so any number of
// workers may deliver results concurrently for the same correlation id.
type Ledger interface {
	// Create inserts a new record. Happens-before every AppendResult for
	// the same correlation id.
	Create(ctx context.Context, record *models.RequestRecord) error

	// Get returns the current record, or ErrUnknownRequest.
	Get(ctx context.Context, correlationID string) (*models.RequestRecord, error)

	// AppendResult atomically appends one WorkResult and returns the
	// post-append record. Returns ErrUnknownRequest if no entry exists.
	AppendResult(ctx context.Context, correlationID string, result models.WorkResult) (*models.RequestRecord, error)

	// MarkProcessing moves pending → processing. Best effort; losing the
	// race to another caller is not an error.
	MarkProcessing(ctx context.Context, correlationID string) error

	// MarkComplete performs the completion CAS: pending/processing →
	// complete. Returns true for exactly one caller even when several
	// absorbers race at the completing moment.
	MarkComplete(ctx context.Context, correlationID string) (bool, error)

	// StoreAnswer records the synthesized answer. Overwriting is allowed;
	// handoff retries after a crash are idempotent.
	StoreAnswer(ctx context.Context, correlationID, answer string) error

	// MarkError moves the record to the error status with a reason.
	MarkError(ctx context.Context, correlationID, reason string) error

	// FindStuck returns records still pending/processing past the cutoff.
	FindStuck(ctx context.Context, olderThan time.Duration) ([]models.RequestRecord, error)

	// FindUnanswered returns correlation ids of records that completed but
	// never got an answer stored (crash between join and handoff).
	FindUnanswered(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// RequestLedger is the MongoDB-backed Ledger. Workers run as independent
// processes, so every mutation goes through a single-document atomic update
// rather than any in-process locking.
type RequestLedger struct {
	collection *mongo.Collection
}

// NewRequestLedger creates a ledger over the requests collection
func NewRequestLedger(mongodb *database.MongoDB) *RequestLedger {
	return &RequestLedger{
		collection: mongodb.Collection(database.CollectionRequests),
	}
}

func (l *RequestLedger) Create(ctx context.Context, record *models.RequestRecord) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = models.RequestStatusPending
	}
	if record.ReceivedResults == nil {
		record.ReceivedResults = []models.WorkResult{}
	}

	if _, err := l.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to create request record: %w", err)
	}
	return nil
}

func (l *RequestLedger) Get(ctx context.Context, correlationID string) (*models.RequestRecord, error) {
	var record models.RequestRecord
	err := l.collection.FindOne(ctx, bson.M{"correlationId": correlationID}).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUnknownRequest
		}
		return nil, fmt.Errorf("failed to get request record: %w", err)
	}
	return &record, nil
}

func (l *RequestLedger) AppendResult(ctx context.Context, correlationID string, result models.WorkResult) (*models.RequestRecord, error) {
	var record models.RequestRecord
	err := l.collection.FindOneAndUpdate(ctx,
		bson.M{"correlationId": correlationID},
		bson.M{
			"$push": bson.M{"receivedResults": result},
			"$set":  bson.M{"updatedAt": time.Now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&record)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUnknownRequest
		}
		return nil, fmt.Errorf("failed to append result: %w", err)
	}
	return &record, nil
}

func (l *RequestLedger) MarkProcessing(ctx context.Context, correlationID string) error {
	_, err := l.collection.UpdateOne(ctx,
		bson.M{"correlationId": correlationID, "status": models.RequestStatusPending},
		bson.M{"$set": bson.M{"status": models.RequestStatusProcessing, "updatedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}
	return nil
}

func (l *RequestLedger) MarkComplete(ctx context.Context, correlationID string) (bool, error) {
	result, err := l.collection.UpdateOne(ctx,
		bson.M{
			"correlationId": correlationID,
			"status":        bson.M{"$in": bson.A{models.RequestStatusPending, models.RequestStatusProcessing}},
		},
		bson.M{"$set": bson.M{"status": models.RequestStatusComplete, "updatedAt": time.Now()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark complete: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (l *RequestLedger) StoreAnswer(ctx context.Context, correlationID, answer string) error {
	result, err := l.collection.UpdateOne(ctx,
		bson.M{"correlationId": correlationID},
		bson.M{"$set": bson.M{"answer": answer, "updatedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrUnknownRequest
	}
	return nil
}

func (l *RequestLedger) MarkError(ctx context.Context, correlationID, reason string) error {
	_, err := l.collection.UpdateOne(ctx,
		bson.M{"correlationId": correlationID},
		bson.M{"$set": bson.M{"status": models.RequestStatusError, "error": reason, "updatedAt": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark error: %w", err)
	}
	return nil
}

func (l *RequestLedger) FindStuck(ctx context.Context, olderThan time.Duration) ([]models.RequestRecord, error) {
	cutoff := time.Now().Add(-olderThan)
	cursor, err := l.collection.Find(ctx, bson.M{
		"status":    bson.M{"$in": bson.A{models.RequestStatusPending, models.RequestStatusProcessing}},
		"createdAt": bson.M{"$lt": cutoff},
	}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(500))
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck requests: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.RequestRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode stuck requests: %w", err)
	}
	return records, nil
}

func (l *RequestLedger) FindUnanswered(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)
	cursor, err := l.collection.Find(ctx, bson.M{
		"status":    models.RequestStatusComplete,
		"updatedAt": bson.M{"$lt": cutoff},
		"$or": bson.A{
			bson.M{"answer": bson.M{"$exists": false}},
			bson.M{"answer": ""},
		},
	}, options.Find().SetProjection(bson.M{"correlationId": 1}).SetLimit(100))
	if err != nil {
		return nil, fmt.Errorf("failed to find unanswered requests: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		CorrelationID string `bson:"correlationId"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode unanswered requests: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CorrelationID)
	}
	return ids, nil
}
