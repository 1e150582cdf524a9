package models

import (
	"time"

	"github.com/google/uuid"
)

// Difficulty level reported for a flashcard review.
const (
	DifficultyEasy = "EASY"
	DifficultyHard = "HARD"
)

func ValidDifficulty(level string) bool {
	return level == DifficultyEasy || level == DifficultyHard
}

// FlashcardInteraction is one flashcard review event. It lives in a
// per-user buffer until a batch flush delivers it to the backend.
type FlashcardInteraction struct {
	ID              uuid.UUID `json:"id"`
	FlashcardID     string    `json:"flashcardId"`
	DifficultyLevel string    `json:"difficultyLevel"` // EASY, HARD
	LessonID        string    `json:"lessonId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
