package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

// TranscriptsHandler serves stored transcript pages by opaque id.
type TranscriptsHandler struct {
	transcripts repository.TranscriptRepository
}

// NewTranscriptsHandler returns a new handler instance.
func NewTranscriptsHandler(transcripts repository.TranscriptRepository) *TranscriptsHandler {
	return &TranscriptsHandler{transcripts: transcripts}
}

// Show renders the HTML body of one transcript.
func (h *TranscriptsHandler) Show(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperrors.NewValidationError("missing transcript id", nil)
	}
	transcript, err := h.transcripts.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(transcript.HTML)
}
