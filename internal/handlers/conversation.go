package handlers

import (
	"log"

	"studentquery/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ConversationHandler serves the user's recent question/answer history
type ConversationHandler struct {
	conversations services.HistoryStore
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(conversations services.HistoryStore) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// ListRecent handles GET /api/conversations
func (h *ConversationHandler) ListRecent(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	if h.conversations == nil {
		return c.JSON(fiber.Map{"conversations": []interface{}{}})
	}

	turns, err := h.conversations.Recent(c.Context(), userID)
	if err != nil {
		log.Printf("❌ [CONVERSATIONS] Failed to load history for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversations",
		})
	}

	return c.JSON(fiber.Map{"conversations": turns})
}
