package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/pkg/logger"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, ragerr.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, ragerr.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ragerr.ErrExtraction):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ragerr.ErrEmbedding), errors.Is(err, ragerr.ErrGeneration):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err with its taxonomy kind. Unclassified errors are
// logged and reported without internal detail.
func respondError(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	kind := ragerr.KindOf(err)

	body := fiber.Map{
		"error": msg,
		"kind":  kind,
	}
	if ragerr.Classified(err) {
		body["detail"] = err.Error()
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.String("kind", kind), zap.String("path", c.Path()), zap.Error(err))
	} else {
		logger.Debug(msg, zap.String("kind", kind), zap.Error(err))
	}

	return c.Status(status).JSON(body)
}
