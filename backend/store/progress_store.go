package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"lessonsync/backend/models"
)

const (
	progressKeyPrefix = "video_progress_"
	lastAccessPrefix  = "last_lesson_access_"

	// CompletionThreshold is the percentage at which a lesson counts as
	// watched. Completion semantics live server-side; crossing it here is
	// only logged.
	CompletionThreshold = 95.0
)

// Enqueuer receives the latest progress whenever a durable write happens.
// This is the only coupling between the store and the sync dispatcher.
type Enqueuer interface {
	Enqueue(userID uint, lessonID string, progress models.VideoProgress, courseID, moduleID, token string)
}

// progressKey scopes every piece of cached state to its owner. Progress
// belongs to the viewing user; lesson ID alone must never address it.
type progressKey struct {
	userID   uint
	lessonID string
}

func progressStorageKey(k progressKey) string {
	return fmt.Sprintf("%s%d_%s", progressKeyPrefix, k.userID, k.lessonID)
}

func lastAccessStorageKey(userID uint) string {
	return fmt.Sprintf("%s%d", lastAccessPrefix, userID)
}

type pendingWrite struct {
	progress models.VideoProgress
	courseID string
	moduleID string
	token    string
	gen      uint64
}

// ProgressStore gives the player a synchronous place to read and write
// watch progress while limiting durable-write frequency. Updates land
// in memory immediately; the durable write runs after a quiet period
// (trailing-edge debounce), each new update replacing the pending timer.
type ProgressStore struct {
	storage Storage
	queue   Enqueuer
	logger  *log.Logger
	window  time.Duration

	mu      sync.Mutex
	gen     uint64
	current map[progressKey]models.VideoProgress
	pending map[progressKey]*pendingWrite
	timers  map[progressKey]*time.Timer
}

func NewProgressStore(storage Storage, queue Enqueuer, window time.Duration, logger *log.Logger) *ProgressStore {
	return &ProgressStore{
		storage: storage,
		queue:   queue,
		logger:  logger,
		window:  window,
		current: make(map[progressKey]models.VideoProgress),
		pending: make(map[progressKey]*pendingWrite),
		timers:  make(map[progressKey]*time.Timer),
	}
}

// Load returns the known progress of a user's lesson, preferring the
// in-memory state over the persisted copy. Absent or corrupt persisted
// entries read as nil; storage trouble is logged, never propagated.
func (s *ProgressStore) Load(userID uint, lessonID string) *models.VideoProgress {
	key := progressKey{userID: userID, lessonID: lessonID}

	s.mu.Lock()
	if p, ok := s.current[key]; ok {
		s.mu.Unlock()
		return &p
	}
	s.mu.Unlock()

	data, err := s.storage.Get(progressStorageKey(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Printf("progress read failed for user %d lesson %s: %v", userID, lessonID, err)
		}
		return nil
	}

	var p models.VideoProgress
	if err := json.Unmarshal(data, &p); err != nil {
		// Corrupt cache entry reads as absent; the backend stays authoritative.
		s.logger.Printf("corrupt progress entry for user %d lesson %s: %v", userID, lessonID, err)
		return nil
	}
	return &p
}

// Update replaces the in-memory state immediately and schedules the
// durable write after the debounce window, cancelling any write still
// pending from an earlier call.
func (s *ProgressStore) Update(userID uint, progress models.VideoProgress, courseID, moduleID, token string) {
	progress.Percentage = models.ComputePercentage(progress.CurrentTime, progress.Duration)
	progress.UpdatedAt = time.Now()
	if progress.CompletionRate < progress.Percentage {
		progress.CompletionRate = progress.Percentage
	}

	key := progressKey{userID: userID, lessonID: progress.LessonID}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, known := s.current[key]
	// Completion rate only ever grows within a session, seeking back
	// does not unwatch a lesson.
	if known && progress.CompletionRate < prev.CompletionRate {
		progress.CompletionRate = prev.CompletionRate
	}
	if (!known || prev.Percentage < CompletionThreshold) && progress.Percentage >= CompletionThreshold {
		s.logger.Printf("user %d lesson %s crossed completion threshold (%.1f%%)", userID, key.lessonID, progress.Percentage)
	}

	s.gen++
	gen := s.gen

	s.current[key] = progress
	s.pending[key] = &pendingWrite{
		progress: progress,
		courseID: courseID,
		moduleID: moduleID,
		token:    token,
		gen:      gen,
	}

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// A timer that fired while a newer update was replacing the
		// pending write must not consume that write early; the newer
		// update gets its full quiet period.
		if w, ok := s.pending[key]; !ok || w.gen != gen {
			return
		}
		s.persistLocked(key)
	})
}

// FlushNow cancels the pending debounce timer for a user's lesson and
// performs the durable write synchronously. Used on teardown so the last
// update is not lost to a timer that never fires.
func (s *ProgressStore) FlushNow(userID uint, lessonID string) {
	key := progressKey{userID: userID, lessonID: lessonID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	s.persistLocked(key)
}

// FlushAll drains every pending write synchronously.
func (s *ProgressStore) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	for key := range s.pending {
		s.persistLocked(key)
	}
}

// persistLocked writes the pending state for a user's lesson and forwards
// it to the dispatcher. A missing pending entry means an earlier flush
// already consumed it; that is not an error.
func (s *ProgressStore) persistLocked(key progressKey) {
	w, ok := s.pending[key]
	if !ok {
		return
	}
	delete(s.pending, key)
	delete(s.timers, key)

	data, err := json.Marshal(w.progress)
	if err != nil {
		s.logger.Printf("encode progress for user %d lesson %s: %v", key.userID, key.lessonID, err)
		return
	}
	if err := s.storage.Set(progressStorageKey(key), data); err != nil {
		// Loss of the local cache is non-fatal; the backend copy survives.
		s.logger.Printf("progress write failed for user %d lesson %s: %v", key.userID, key.lessonID, err)
	}

	if s.queue != nil {
		s.queue.Enqueue(key.userID, key.lessonID, w.progress, w.courseID, w.moduleID, w.token)
	}
}

// Clear removes the persisted entry and resets the in-memory state.
func (s *ProgressStore) Clear(userID uint, lessonID string) {
	key := progressKey{userID: userID, lessonID: lessonID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	delete(s.pending, key)
	delete(s.current, key)
	if err := s.storage.Delete(progressStorageKey(key)); err != nil {
		s.logger.Printf("progress delete failed for user %d lesson %s: %v", userID, lessonID, err)
	}
}

// LastAccess reads the user's last-visited-lesson context, nil when unset.
func (s *ProgressStore) LastAccess(userID uint) *models.LastLessonAccess {
	data, err := s.storage.Get(lastAccessStorageKey(userID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Printf("last-access read failed for user %d: %v", userID, err)
		}
		return nil
	}
	var a models.LastLessonAccess
	if err := json.Unmarshal(data, &a); err != nil {
		s.logger.Printf("corrupt last-access entry for user %d: %v", userID, err)
		return nil
	}
	return &a
}

// SetLastAccess stores the user's last-visited-lesson context.
func (s *ProgressStore) SetLastAccess(userID uint, a models.LastLessonAccess) {
	if a.VisitedAt.IsZero() {
		a.VisitedAt = time.Now()
	}
	data, err := json.Marshal(a)
	if err != nil {
		s.logger.Printf("encode last-access for user %d: %v", userID, err)
		return
	}
	if err := s.storage.Set(lastAccessStorageKey(userID), data); err != nil {
		s.logger.Printf("last-access write failed for user %d: %v", userID, err)
	}
}
