package handlers

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/pkg/logger"
)

type wsMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	Content    string `json:"content"`
}

// WebSocketHandler answers chat messages over a socket. Each message gets
// exactly one reply carrying the whole answer.
type WebSocketHandler struct {
	chat             ChatService
	maxContentLength int
}

func NewWebSocketHandler(chat ChatService, maxContentLength int) *WebSocketHandler {
	if maxContentLength <= 0 {
		maxContentLength = 4000
	}
	return &WebSocketHandler{chat: chat, maxContentLength: maxContentLength}
}

// Upgrade rejects plain HTTP requests to the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established", zap.String("remote", c.RemoteAddr().String()))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		var err error
		switch msg.Type {
		case "ping":
			err = c.WriteJSON(fiber.Map{"type": "pong"})
		case "chat":
			err = h.answer(c, msg)
		default:
			err = h.sendError(c, ragerr.New(ragerr.ErrInvalidInput, "unknown message type %q", msg.Type))
		}
		if err != nil {
			logger.Warn("Failed to write WebSocket reply", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) answer(c *websocket.Conn, msg wsMessage) error {
	content := strings.TrimSpace(strings.ReplaceAll(msg.Content, "\x00", ""))
	if msg.DocumentID == "" {
		return h.sendError(c, ragerr.New(ragerr.ErrInvalidInput, "document_id is required"))
	}
	if utf8.RuneCountInString(content) > h.maxContentLength {
		return h.sendError(c, ragerr.New(ragerr.ErrInvalidInput, "content exceeds maximum length"))
	}

	res, err := h.chat.Ask(context.Background(), msg.DocumentID, msg.UserID, content)
	if err != nil {
		return h.sendError(c, err)
	}

	return c.WriteJSON(fiber.Map{
		"type":         "answer",
		"document_id":  msg.DocumentID,
		"answer":       res.Answer,
		"source_pages": res.SourcePages,
		"sources":      res.Sources,
		"history":      res.History,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, err error) error {
	msg := "Failed to answer question"
	if ragerr.Classified(err) {
		msg = err.Error()
	} else {
		logger.Error("WebSocket chat failed", zap.Error(err))
	}
	return c.WriteJSON(fiber.Map{
		"type":  "error",
		"kind":  ragerr.KindOf(err),
		"error": msg,
	})
}
