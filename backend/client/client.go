package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthorized means the backend rejected the credential attached to
// the flush. Buffered data cannot be synced until the caller shows up
// with a fresh token.
var ErrUnauthorized = errors.New("backend rejected credential")

// APIError is a non-2xx answer from the backend. The whole batch the
// request carried is considered failed; nothing is retried item-by-item.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

type ProgressPayload struct {
	LessonID    string  `json:"lessonId"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Percentage  float64 `json:"percentage"`
	CourseID    string  `json:"courseId,omitempty"`
	ModuleID    string  `json:"moduleId,omitempty"`
}

type InteractionPayload struct {
	ID              string `json:"id"`
	FlashcardID     string `json:"flashcardId"`
	DifficultyLevel string `json:"difficultyLevel"`
	LessonID        string `json:"lessonId,omitempty"`
}

type BatchResult struct {
	TotalProcessed int `json:"totalProcessed"`
}

// Client talks to the authoritative backend API. Every call carries the
// bearer token of the user the data belongs to.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

func New(baseURL string, logger *log.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Bounded so a flush can never leave callers in "queued" forever.
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// PushProgress delivers one lesson's latest watch state.
func (c *Client) PushProgress(ctx context.Context, token string, p ProgressPayload) error {
	return c.post(ctx, token, "/progress", p, nil)
}

// PushInteractions delivers a batch of flashcard reviews in one request.
func (c *Client) PushInteractions(ctx context.Context, token string, items []InteractionPayload) (*BatchResult, error) {
	body := map[string]interface{}{"interactions": items}
	var result BatchResult
	if err := c.post(ctx, token, "/flashcard-interactions", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, token, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &APIError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			// Accepted but unreadable answer; the write itself succeeded.
			c.logger.Printf("decode %s response: %v", path, err)
		}
	}
	return nil
}

func readDetail(r io.Reader) string {
	var body struct {
		Detail string `json:"detail"`
	}
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}
