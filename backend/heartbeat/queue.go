package heartbeat

import (
	"context"
	"log"
	"sync"
	"time"

	"lessonsync/backend/client"
	"lessonsync/backend/models"
)

// DefaultMaxAttempts bounds retries per queued lesson so a long session
// with a dead backend cannot grow the queue forever.
const DefaultMaxAttempts = 5

// queueKey scopes queued heartbeats to their owner: two users watching
// the same lesson are two independent entries, never superseding each
// other's final state.
type queueKey struct {
	userID   uint
	lessonID string
}

type entry struct {
	key      queueKey
	progress models.VideoProgress
	courseID string
	moduleID string
	token    string
	attempts int
	seq      uint64
}

// Queue decouples tick-frequency progress updates from network-frequency
// syncs. It is keyed per user per lesson: enqueueing overwrites whatever
// that user still has queued for that lesson, so only the latest state is
// ever sent (last-write-wins). Entries that fail to deliver stay queued
// until the attempt cap, then drop with a logged failure.
type Queue struct {
	client      *client.Client
	logger      *log.Logger
	maxAttempts int

	mu      sync.Mutex
	entries map[queueKey]*entry
	seq     uint64

	// Serializes flushes so each entry has at most one request in flight.
	flushMu sync.Mutex
}

func NewQueue(c *client.Client, logger *log.Logger, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		client:      c,
		logger:      logger,
		maxAttempts: maxAttempts,
		entries:     make(map[queueKey]*entry),
	}
}

// Enqueue queues a user's latest progress for a lesson, superseding any
// entry that user still has waiting for that lesson. Stale intermediate
// states are never sent.
func (q *Queue) Enqueue(userID uint, lessonID string, progress models.VideoProgress, courseID, moduleID, token string) {
	key := queueKey{userID: userID, lessonID: lessonID}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.entries[key] = &entry{
		key:      key,
		progress: progress,
		courseID: courseID,
		moduleID: moduleID,
		token:    token,
		seq:      q.seq,
	}
	q.logger.Printf("heartbeat queued for user %d lesson %s (queue size: %d)", userID, lessonID, len(q.entries))
}

// Len reports how many entries are waiting for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush attempts delivery of everything queued, one request per entry.
// Delivered entries leave the queue; failed ones stay for the next pass
// unless they hit the attempt cap. An entry superseded while its request
// was in flight is kept so the newer state still gets sent.
func (q *Queue) Flush(ctx context.Context) (delivered, failed int) {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	snapshot := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		snapshot = append(snapshot, e)
	}
	q.mu.Unlock()

	for _, e := range snapshot {
		err := q.client.PushProgress(ctx, e.token, client.ProgressPayload{
			LessonID:    e.key.lessonID,
			CurrentTime: e.progress.CurrentTime,
			Duration:    e.progress.Duration,
			Percentage:  e.progress.Percentage,
			CourseID:    e.courseID,
			ModuleID:    e.moduleID,
		})

		q.mu.Lock()
		current, ok := q.entries[e.key]
		if err == nil {
			delivered++
			if ok && current.seq == e.seq {
				delete(q.entries, e.key)
			}
			q.mu.Unlock()
			continue
		}

		failed++
		if ok && current.seq == e.seq {
			current.attempts++
			if current.attempts >= q.maxAttempts {
				delete(q.entries, e.key)
				q.logger.Printf("dropping heartbeat for user %d lesson %s after %d failed attempts: %v",
					e.key.userID, e.key.lessonID, current.attempts, err)
			}
		}
		q.mu.Unlock()
		q.logger.Printf("heartbeat flush failed for user %d lesson %s: %v", e.key.userID, e.key.lessonID, err)
	}

	return delivered, failed
}

// Close performs the final synchronous flush on teardown, the moment the
// periodic job will not get another chance to run.
func (q *Queue) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if delivered, failed := q.Flush(ctx); failed > 0 {
		q.logger.Printf("final heartbeat flush: %d delivered, %d still undelivered", delivered, failed)
	}
}
