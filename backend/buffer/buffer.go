package buffer

import (
	"context"
	"log"
	"sync"
	"time"

	"lessonsync/backend/client"
	"lessonsync/backend/models"
)

// Record outcome statuses reported to the caller.
const (
	StatusQueued  = "queued"
	StatusFlushed = "flushed"
)

// UserBuffer holds one user's not-yet-delivered flashcard reviews in
// insertion order, behind its own lock so one user's slow flush never
// stalls another user's recording. No credential is stored with it;
// flushes use the token of the request that triggered them.
type UserBuffer struct {
	mu         sync.Mutex
	items      []models.FlashcardInteraction
	lastUpdate time.Time
}

// RecordResult tells the caller what happened to their interaction.
type RecordResult struct {
	Status         string `json:"status"`
	QueueSize      int    `json:"queueSize,omitempty"`
	TotalProcessed int    `json:"totalProcessed,omitempty"`
}

// Service buffers flashcard interactions per user and flushes them to
// the backend in batches, bounded by count and by time.
//
// The buffer map lives in process memory: a second instance of this
// service gets its own disjoint buffers and the batching invariants no
// longer hold. Run exactly one instance, or move the buffers to a shared
// store with atomic append-and-flush first.
type Service struct {
	client *client.Client
	logger *log.Logger

	batchSize     int
	maxBufferSize int
	flushWindow   time.Duration

	// mu guards the map only; each UserBuffer carries its own lock.
	mu      sync.Mutex
	buffers map[uint]*UserBuffer
}

func NewService(c *client.Client, batchSize, maxBufferSize int, flushWindow time.Duration, logger *log.Logger) *Service {
	return &Service{
		client:        c,
		logger:        logger,
		batchSize:     batchSize,
		maxBufferSize: maxBufferSize,
		flushWindow:   flushWindow,
		buffers:       make(map[uint]*UserBuffer),
	}
}

func (s *Service) bufferFor(userID uint) *UserBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.buffers[userID]
	if !ok {
		buf = &UserBuffer{}
		s.buffers[userID] = buf
	}
	return buf
}

func (s *Service) lookup(userID uint) *UserBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers[userID]
}

// Record appends one interaction to the user's buffer. Hitting the batch
// size flushes immediately and reports the flush result; hitting the hard
// ceiling first forces a flush before the append so the buffer never
// exceeds it at rest. Below both thresholds the caller gets a queued
// status with the current depth.
func (s *Service) Record(ctx context.Context, userID uint, token string, interaction models.FlashcardInteraction) (*RecordResult, error) {
	buf := s.bufferFor(userID)
	buf.mu.Lock()
	defer buf.mu.Unlock()

	if len(buf.items) >= s.maxBufferSize {
		if _, err := s.flushBuffer(ctx, token, buf); err != nil {
			// The ceiling wins over durability: a backend outage must not
			// grow the buffer without bound.
			s.logger.Printf("force-flush failed for user %d, dropping %d buffered interactions: %v",
				userID, len(buf.items), err)
			buf.items = nil
		}
	}

	buf.items = append(buf.items, interaction)
	buf.lastUpdate = time.Now()

	if len(buf.items) >= s.batchSize {
		processed, err := s.flushBuffer(ctx, token, buf)
		if err != nil {
			return &RecordResult{Status: StatusQueued, QueueSize: len(buf.items)}, err
		}
		return &RecordResult{Status: StatusFlushed, TotalProcessed: processed}, nil
	}

	return &RecordResult{Status: StatusQueued, QueueSize: len(buf.items)}, nil
}

// Flush delivers the user's buffered interactions as one batch. Success
// clears the buffer; failure leaves every item in place for the next
// Record or sweep. A batch either fully succeeds or fully stays queued.
func (s *Service) Flush(ctx context.Context, userID uint, token string) (int, error) {
	buf := s.lookup(userID)
	if buf == nil {
		return 0, nil
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	if len(buf.items) == 0 {
		return 0, nil
	}
	return s.flushBuffer(ctx, token, buf)
}

// QueueDepth reports how many interactions a user has buffered.
func (s *Service) QueueDepth(userID uint) int {
	buf := s.lookup(userID)
	if buf == nil {
		return 0
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return len(buf.items)
}

// TimeSweep drops buffers that have been idle past the flush window.
//
// The sweep runs from a scheduler that holds no user credential, so it
// cannot deliver what it finds: stale items are discarded, not flushed.
// That is silent data loss, a known limitation of this design carried
// over deliberately rather than papered over with a stored credential.
func (s *Service) TimeSweep() {
	s.mu.Lock()
	snapshot := make(map[uint]*UserBuffer, len(s.buffers))
	for userID, buf := range s.buffers {
		snapshot[userID] = buf
	}
	s.mu.Unlock()

	cutoff := time.Now().Add(-s.flushWindow)
	for userID, buf := range snapshot {
		buf.mu.Lock()
		if len(buf.items) > 0 && !buf.lastUpdate.After(cutoff) {
			s.logger.Printf("sweep dropping %d stale interactions for user %d (no credential to flush with)",
				len(buf.items), userID)
			buf.items = nil
		}
		buf.mu.Unlock()
	}
}

// flushBuffer sends everything in buf as one batch; the caller holds
// buf.mu. Interaction IDs travel with the batch so a retried batch is
// recognizable server-side as the same reviews, not new ones.
func (s *Service) flushBuffer(ctx context.Context, token string, buf *UserBuffer) (int, error) {
	payload := make([]client.InteractionPayload, len(buf.items))
	for i, it := range buf.items {
		payload[i] = client.InteractionPayload{
			ID:              it.ID.String(),
			FlashcardID:     it.FlashcardID,
			DifficultyLevel: it.DifficultyLevel,
			LessonID:        it.LessonID,
		}
	}

	result, err := s.client.PushInteractions(ctx, token, payload)
	if err != nil {
		return 0, err
	}

	buf.items = nil
	buf.lastUpdate = time.Now()
	return result.TotalProcessed, nil
}
