package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"studentquery/internal/models"
)

// AnswerSynthesizer is the slice of the synthesizer the handoff needs
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, question string, data map[string]interface{}, failedSources []string, history []models.ConversationTurn) (string, error)
}

// HistoryStore persists conversation turns. Nil-safe in the handoff: with no
// Mongo configured, answers are still delivered but history is not kept.
type HistoryStore interface {
	Append(ctx context.Context, turn *models.ConversationTurn) error
	Recent(ctx context.Context, userID string) ([]models.ConversationTurn, error)
}

// Notifier pushes an answer-ready event to a user's live connections
type Notifier interface {
	SendToUser(userID string, event interface{}) bool
}

// Handoff runs after the join completes: it folds the collected results,
// synthesizes the answer, stores it, and notifies the user. Run is
// idempotent; re-running for an already answered request is a no-op, which
// lets the recovery job retry crashed handoffs safely.
type Handoff struct {
	ledger        Ledger
	synthesizer   AnswerSynthesizer
	conversations HistoryStore
	notifier      Notifier
	pubsub        *PubSubService
}

// NewHandoff creates the completion handoff. conversations, notifier and
// pubsub may be nil when the backing services are not configured.
func NewHandoff(ledger Ledger, synthesizer AnswerSynthesizer, conversations HistoryStore, notifier Notifier, pubsub *PubSubService) *Handoff {
	return &Handoff{
		ledger:        ledger,
		synthesizer:   synthesizer,
		conversations: conversations,
		notifier:      notifier,
		pubsub:        pubsub,
	}
}

// Run executes the handoff for a completed request
func (h *Handoff) Run(ctx context.Context, correlationID string) error {
	start := time.Now()

	record, err := h.ledger.Get(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("failed to load request for handoff: %w", err)
	}

	if record.Answer != "" {
		log.Printf("🔁 [HANDOFF] %s already answered, skipping", correlationID)
		return nil
	}

	// Fold results into one value per source. Results arrive append-only,
	// so later entries win for duplicate deliveries.
	data := make(map[string]interface{})
	failedSet := make(map[string]bool)
	for _, result := range record.ReceivedResults {
		if result.Error != "" {
			failedSet[result.Source] = true
			delete(data, result.Source)
			continue
		}
		data[result.Source] = result.Data
		delete(failedSet, result.Source)
	}
	var failedSources []string
	for source := range failedSet {
		failedSources = append(failedSources, source)
	}

	var history []models.ConversationTurn
	if h.conversations != nil {
		history, err = h.conversations.Recent(ctx, record.UserID)
		if err != nil {
			log.Printf("⚠️ [HANDOFF] Failed to load history for %s: %v", correlationID, err)
		}
	}

	answer, err := h.synthesizer.Synthesize(ctx, record.Message, data, failedSources, history)
	if err != nil {
		// Leave the record complete-without-answer; the recovery job
		// retries it later.
		log.Printf("⚠️ [HANDOFF] Synthesis failed for %s: %v", correlationID, err)
		return fmt.Errorf("synthesis failed: %w", err)
	}

	if err := h.ledger.StoreAnswer(ctx, correlationID, answer); err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}

	if h.conversations != nil {
		turn := &models.ConversationTurn{
			UserID:        record.UserID,
			CorrelationID: correlationID,
			Question:      record.Message,
			Answer:        answer,
		}
		if err := h.conversations.Append(ctx, turn); err != nil {
			log.Printf("⚠️ [HANDOFF] Failed to record conversation turn for %s: %v", correlationID, err)
		}
	}

	h.notify(ctx, record.UserID, correlationID)

	elapsed := time.Since(start)
	if m := GetMetrics(); m != nil {
		m.RecordHandoffLatency(elapsed.Seconds())
	}
	log.Printf("✅ [HANDOFF] %s answered in %v (%d sources, %d failed)",
		correlationID, elapsed, len(data), len(failedSources))
	return nil
}

func (h *Handoff) notify(ctx context.Context, userID, correlationID string) {
	event := map[string]interface{}{
		"type":           "answer_ready",
		"correlation_id": correlationID,
	}

	delivered := false
	if h.notifier != nil {
		delivered = h.notifier.SendToUser(userID, event)
	}

	// Fan the event out to other instances; the user's socket may live
	// elsewhere.
	if h.pubsub != nil {
		if err := h.pubsub.PublishToUser(ctx, userID, "answer_ready", correlationID, nil); err != nil {
			log.Printf("⚠️ [HANDOFF] Failed to publish answer event for %s: %v", correlationID, err)
		}
	} else if !delivered {
		log.Printf("📪 [HANDOFF] No live connection for user %s; answer available via poll", userID)
	}
}
