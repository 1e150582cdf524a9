package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WatchedSegment is a time range of the video already played,
// used to tell genuine completion from seeking past content.
type WatchedSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// VideoProgress is the per-lesson watch state kept in the local cache.
// The backend remains the source of truth; this is a write-behind copy.
type VideoProgress struct {
	LessonID        string           `json:"lessonId"`
	CurrentTime     float64          `json:"currentTime"`
	Duration        float64          `json:"duration"`
	Percentage      float64          `json:"percentage"`
	WatchedSegments []WatchedSegment `json:"watchedSegments,omitempty"`
	CompletionRate  float64          `json:"completionRate"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// ComputePercentage derives the watch percentage, clamped to [0, 100].
func ComputePercentage(currentTime, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	pct := currentTime / duration * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// LastLessonAccess is the navigation context of the most recently
// visited lesson, kept under a single storage key.
type LastLessonAccess struct {
	LessonID  string    `json:"lessonId"`
	CourseID  string    `json:"courseId,omitempty"`
	ModuleID  string    `json:"moduleId,omitempty"`
	VisitedAt time.Time `json:"visitedAt"`
}

// ProgressCacheEntry is the row shape of the postgres storage strategy.
// Value holds the same JSON document the disk strategy writes to a file.
type ProgressCacheEntry struct {
	gorm.Model
	Key   string         `gorm:"uniqueIndex;not null"`
	Value datatypes.JSON `gorm:"not null"`
}
