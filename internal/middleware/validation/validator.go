package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const chatMessageKey = "chat_message"

type Config struct {
	MaxContentLength    int
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ChatMessage is the sanitized body of a chat request.
type ChatMessage struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// ChatMessageFrom returns the message stored by Middleware, if any.
func ChatMessageFrom(c *fiber.Ctx) (ChatMessage, bool) {
	msg, ok := c.Locals(chatMessageKey).(ChatMessage)
	return msg, ok
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	if cfg.MaxDocumentSize <= 0 {
		cfg.MaxDocumentSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		if contentType != "" && !hasAnyPrefix(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		path := strings.TrimSuffix(c.Path(), "/")

		if strings.HasSuffix(path, "/chat") {
			var msg ChatMessage
			if err := c.BodyParser(&msg); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			msg.Content = sanitizeString(msg.Content)
			msg.UserID = sanitizeString(msg.UserID)
			if msg.Content == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "content is required",
				})
			}
			if utf8.RuneCountInString(msg.Content) > cfg.MaxContentLength {
				cfg.Logger.Warn("Chat message too long",
					zap.String("ip", c.IP()),
					zap.Int("length", utf8.RuneCountInString(msg.Content)),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "content exceeds maximum length",
				})
			}

			c.Locals(chatMessageKey, msg)
		}

		if strings.HasSuffix(path, "/api/v1/documents") && c.Method() == fiber.MethodPost {
			if !strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Upload must be multipart/form-data",
				})
			}
			if n := c.Request().Header.ContentLength(); n > cfg.MaxDocumentSize+64*1024 {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
