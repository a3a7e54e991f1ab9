package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/docchat/backend/internal/chat"
	"github.com/docchat/backend/internal/middleware/validation"
	"github.com/docchat/backend/internal/storage/models"
)

type ChatService interface {
	Ask(ctx context.Context, docID, userID, content string) (*chat.Result, error)
	History(ctx context.Context, docID string) ([]models.ChatTurn, error)
}

type ChatHandler struct {
	chat ChatService
}

func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	msg, ok := validation.ChatMessageFrom(c)
	if !ok {
		if err := c.BodyParser(&msg); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	res, err := h.chat.Ask(c.UserContext(), c.Params("id"), msg.UserID, msg.Content)
	if err != nil {
		return respondError(c, err, "Failed to answer question")
	}

	return c.JSON(res)
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	docID := c.Params("id")
	history, err := h.chat.History(c.UserContext(), docID)
	if err != nil {
		return respondError(c, err, "Failed to get chat history")
	}

	return c.JSON(fiber.Map{
		"document_id": docID,
		"history":     history,
	})
}
