package controllers

import (
	"errors"
	"time"

	"lessonsync/backend/buffer"
	"lessonsync/backend/client"
	"lessonsync/backend/config"
	"lessonsync/backend/middleware"
	"lessonsync/backend/models"
	"lessonsync/backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type InteractionController struct {
	Buffer *buffer.Service
	Cfg    *config.Config
}

func NewInteractionController(b *buffer.Service, cfg *config.Config) *InteractionController {
	return &InteractionController{Buffer: b, Cfg: cfg}
}

type interactionRequest struct {
	FlashcardID     string `json:"flashcardId"`
	DifficultyLevel string `json:"difficultyLevel"`
	LessonID        string `json:"lessonId"`
}

// RecordInteraction godoc
// @Summary Buffer one flashcard review
// @Description Reviews accumulate per user and flush to the backend in batches
// @Tags interactions
// @Accept json
// @Produce json
// @Success 200 {object} buffer.RecordResult
// @Failure 400 {object} utils.ErrorResponse
// @Failure 401 {object} utils.ErrorResponse
// @Failure 502 {object} utils.ErrorResponse
// @Security ApiKeyAuth
// @Router /flashcard-interactions [post]
func (ic *InteractionController) RecordInteraction(c *fiber.Ctx) error {
	var req interactionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, "Invalid request body")
	}
	if req.FlashcardID == "" {
		return utils.BadRequest(c, "flashcardId is required")
	}
	if !models.ValidDifficulty(req.DifficultyLevel) {
		return utils.BadRequest(c, "difficultyLevel must be EASY or HARD")
	}

	userID := c.Locals(middleware.LocalUserID).(uint)
	token := c.Locals(middleware.LocalToken).(string)

	result, err := ic.Buffer.Record(c.Context(), userID, token, models.FlashcardInteraction{
		ID:              uuid.New(),
		FlashcardID:     req.FlashcardID,
		DifficultyLevel: req.DifficultyLevel,
		LessonID:        req.LessonID,
		Timestamp:       time.Now(),
	})
	if err != nil {
		return flushError(c, err, result)
	}

	return utils.Success(c, fiber.StatusOK, result)
}

// FlushInteractions godoc
// @Summary Flush the caller's buffered reviews now
// @Tags interactions
// @Produce json
// @Success 200 {object} utils.SuccessResponse
// @Failure 401 {object} utils.ErrorResponse
// @Failure 502 {object} utils.ErrorResponse
// @Security ApiKeyAuth
// @Router /flashcard-interactions/flush [post]
func (ic *InteractionController) FlushInteractions(c *fiber.Ctx) error {
	userID := c.Locals(middleware.LocalUserID).(uint)
	token := c.Locals(middleware.LocalToken).(string)

	processed, err := ic.Buffer.Flush(c.Context(), userID, token)
	if err != nil {
		return flushError(c, err, nil)
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"totalProcessed": processed,
		"queueSize":      ic.Buffer.QueueDepth(userID),
	})
}

// flushError maps backend delivery failures onto responses. The batch
// stays buffered in every case; the caller decides whether to alert.
func flushError(c *fiber.Ctx, err error, result *buffer.RecordResult) error {
	status := fiber.StatusBadGateway
	if errors.Is(err, client.ErrUnauthorized) {
		status = fiber.StatusUnauthorized
	}
	if result != nil {
		return utils.Error(c, status, err, fiber.Map{"queueSize": result.QueueSize})
	}
	return utils.Error(c, status, err)
}
