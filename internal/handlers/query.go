package handlers

import (
	"errors"
	"log"
	"strings"

	"studentquery/internal/models"
	"studentquery/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// QueryHandler handles query submission and status polling
type QueryHandler struct {
	analyzer      *services.Analyzer
	dispatcher    *services.Dispatcher
	ledger        services.Ledger
	synthesizer   *services.Synthesizer
	conversations services.HistoryStore
}

// NewQueryHandler creates a new query handler
func NewQueryHandler(analyzer *services.Analyzer, dispatcher *services.Dispatcher, ledger services.Ledger, synthesizer *services.Synthesizer, conversations services.HistoryStore) *QueryHandler {
	return &QueryHandler{
		analyzer:      analyzer,
		dispatcher:    dispatcher,
		ledger:        ledger,
		synthesizer:   synthesizer,
		conversations: conversations,
	}
}

type submitQueryRequest struct {
	Message string `json:"message"`
}

// SubmitQuery handles POST /api/query. Questions that need student data are
// fanned out and answered asynchronously (202); questions that need none are
// answered inline (200).
func (h *QueryHandler) SubmitQuery(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req submitQueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	correlationID := uuid.New().String()
	sources := h.analyzer.Analyze(c.Context(), req.Message)

	// No data needed: answer inline without touching the ledger
	if len(sources) == 0 {
		return h.answerDirect(c, correlationID, userID, req.Message)
	}

	result, err := h.dispatcher.Dispatch(c.Context(), correlationID, userID, req.Message, sources)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request: " + err.Error(),
			})
		}
		log.Printf("❌ [QUERY] Dispatch failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to dispatch query",
		})
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordQuery("fanout")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"correlation_id": correlationID,
		"status":         models.RequestStatusPending,
		"emissions":      result.Emissions,
	})
}

func (h *QueryHandler) answerDirect(c *fiber.Ctx, correlationID, userID, message string) error {
	var history []models.ConversationTurn
	if h.conversations != nil {
		var err error
		history, err = h.conversations.Recent(c.Context(), userID)
		if err != nil {
			log.Printf("⚠️ [QUERY] Failed to load history for user %s: %v", userID, err)
		}
	}

	answer, err := h.synthesizer.Direct(c.Context(), message, history)
	if err != nil {
		log.Printf("❌ [QUERY] Direct answer failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer query",
		})
	}

	if h.conversations != nil {
		turn := &models.ConversationTurn{
			UserID:        userID,
			CorrelationID: correlationID,
			Question:      message,
			Answer:        answer,
		}
		if err := h.conversations.Append(c.Context(), turn); err != nil {
			log.Printf("⚠️ [QUERY] Failed to record conversation turn: %v", err)
		}
	}

	if m := services.GetMetrics(); m != nil {
		m.RecordQuery("direct")
	}

	return c.JSON(fiber.Map{
		"correlation_id": correlationID,
		"status":         models.RequestStatusComplete,
		"answer":         answer,
	})
}

// PollStatus handles GET /api/query/:id. Requests belonging to other users
// are indistinguishable from unknown ones.
func (h *QueryHandler) PollStatus(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	correlationID := c.Params("id")
	record, err := h.ledger.Get(c.Context(), correlationID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownRequest) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Request not found",
			})
		}
		log.Printf("❌ [QUERY] Status lookup failed for %s: %v", correlationID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up request",
		})
	}
	if record.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Request not found",
		})
	}

	status := record.Status
	// Complete but not yet synthesized reads as still in flight
	if status == models.RequestStatusComplete && record.Answer == "" {
		status = models.RequestStatusProcessing
	}

	resp := fiber.Map{
		"correlation_id":   record.CorrelationID,
		"status":           status,
		"required_sources": record.RequiredSources,
		"received_sources": receivedSources(record),
		"created_at":       record.CreatedAt,
		"updated_at":       record.UpdatedAt,
	}
	if record.Answer != "" {
		resp["answer"] = record.Answer
	}
	if record.Error != "" {
		resp["error"] = record.Error
	}
	return c.JSON(resp)
}

func receivedSources(record *models.RequestRecord) []string {
	set := record.ReceivedSourceSet()
	sources := make([]string, 0, len(set))
	for _, src := range record.RequiredSources {
		if set[src] {
			sources = append(sources, src)
		}
	}
	return sources
}
