package controllers

import (
	"lessonsync/backend/config"
	"lessonsync/backend/heartbeat"
	"lessonsync/backend/middleware"
	"lessonsync/backend/models"
	"lessonsync/backend/store"
	"lessonsync/backend/utils"

	"github.com/gofiber/fiber/v2"
)

type ProgressController struct {
	Store *store.ProgressStore
	Queue *heartbeat.Queue
	Cfg   *config.Config
}

func NewProgressController(s *store.ProgressStore, q *heartbeat.Queue, cfg *config.Config) *ProgressController {
	return &ProgressController{Store: s, Queue: q, Cfg: cfg}
}

type progressRequest struct {
	LessonID        string                  `json:"lessonId"`
	CurrentTime     float64                 `json:"currentTime"`
	Duration        float64                 `json:"duration"`
	WatchedSegments []models.WatchedSegment `json:"watchedSegments"`
	CompletionRate  float64                 `json:"completionRate"`
	CourseID        string                  `json:"courseId"`
	ModuleID        string                  `json:"moduleId"`
}

// UpdateProgress godoc
// @Summary Report a player tick
// @Description Updates in-memory progress immediately; the durable write and backend sync are debounced
// @Tags progress
// @Accept json
// @Produce json
// @Success 200 {object} utils.SuccessResponse
// @Failure 400 {object} utils.ErrorResponse
// @Failure 401 {object} utils.ErrorResponse
// @Security ApiKeyAuth
// @Router /progress [post]
func (pc *ProgressController) UpdateProgress(c *fiber.Ctx) error {
	var req progressRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequest(c, "Invalid request body")
	}
	if req.LessonID == "" {
		return utils.BadRequest(c, "lessonId is required")
	}
	if req.Duration < 0 || req.CurrentTime < 0 {
		return utils.BadRequest(c, "currentTime and duration must be non-negative")
	}

	userID := c.Locals(middleware.LocalUserID).(uint)
	token := c.Locals(middleware.LocalToken).(string)

	pc.Store.Update(userID, models.VideoProgress{
		LessonID:        req.LessonID,
		CurrentTime:     req.CurrentTime,
		Duration:        req.Duration,
		WatchedSegments: req.WatchedSegments,
		CompletionRate:  req.CompletionRate,
	}, req.CourseID, req.ModuleID, token)

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"lessonId":   req.LessonID,
		"percentage": models.ComputePercentage(req.CurrentTime, req.Duration),
	})
}

// GetProgress godoc
// @Summary Get known progress for a lesson
// @Tags progress
// @Produce json
// @Success 200 {object} models.VideoProgress
// @Failure 404 {object} utils.ErrorResponse
// @Security ApiKeyAuth
// @Router /progress/{lessonId} [get]
func (pc *ProgressController) GetProgress(c *fiber.Ctx) error {
	userID := c.Locals(middleware.LocalUserID).(uint)
	lessonID := c.Params("lessonId")
	progress := pc.Store.Load(userID, lessonID)
	if progress == nil {
		return utils.NotFound(c, "No progress recorded for lesson")
	}
	return utils.Success(c, fiber.StatusOK, progress)
}

// ClearProgress godoc
// @Summary Remove stored progress for a lesson
// @Tags progress
// @Produce json
// @Success 204
// @Security ApiKeyAuth
// @Router /progress/{lessonId} [delete]
func (pc *ProgressController) ClearProgress(c *fiber.Ctx) error {
	userID := c.Locals(middleware.LocalUserID).(uint)
	pc.Store.Clear(userID, c.Params("lessonId"))
	return c.SendStatus(fiber.StatusNoContent)
}

type flushRequest struct {
	LessonID string `json:"lessonId"`
}

// FlushProgress godoc
// @Summary Flush pending progress writes and drain the heartbeat queue
// @Description Called on player teardown so the final state is not lost to a timer that never fires
// @Tags progress
// @Accept json
// @Produce json
// @Success 200 {object} utils.SuccessResponse
// @Security ApiKeyAuth
// @Router /progress/flush [post]
func (pc *ProgressController) FlushProgress(c *fiber.Ctx) error {
	// Body is optional; an empty or unreadable one means "flush everything".
	var req flushRequest
	_ = c.BodyParser(&req)

	userID := c.Locals(middleware.LocalUserID).(uint)
	if req.LessonID != "" {
		pc.Store.FlushNow(userID, req.LessonID)
	} else {
		pc.Store.FlushAll()
	}

	delivered, failed := pc.Queue.Flush(c.Context())
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"delivered": delivered,
		"failed":    failed,
		"queued":    pc.Queue.Len(),
	})
}

// GetLastAccess godoc
// @Summary Get the most recently visited lesson's navigation context
// @Tags progress
// @Produce json
// @Success 200 {object} models.LastLessonAccess
// @Failure 404 {object} utils.ErrorResponse
// @Security ApiKeyAuth
// @Router /progress/last-access [get]
func (pc *ProgressController) GetLastAccess(c *fiber.Ctx) error {
	userID := c.Locals(middleware.LocalUserID).(uint)
	access := pc.Store.LastAccess(userID)
	if access == nil {
		return utils.NotFound(c, "No lesson visited yet")
	}
	return utils.Success(c, fiber.StatusOK, access)
}

// SetLastAccess godoc
// @Summary Record the most recently visited lesson
// @Tags progress
// @Accept json
// @Produce json
// @Success 200 {object} utils.SuccessResponse
// @Failure 400 {object} utils.ErrorResponse
// @Security ApiKeyAuth
// @Router /progress/last-access [put]
func (pc *ProgressController) SetLastAccess(c *fiber.Ctx) error {
	var access models.LastLessonAccess
	if err := c.BodyParser(&access); err != nil {
		return utils.BadRequest(c, "Invalid request body")
	}
	if access.LessonID == "" {
		return utils.BadRequest(c, "lessonId is required")
	}
	userID := c.Locals(middleware.LocalUserID).(uint)
	pc.Store.SetLastAccess(userID, access)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"lessonId": access.LessonID})
}
