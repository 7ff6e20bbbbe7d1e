package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MinQuestionLength is the minimum trimmed length of a question body.
	MinQuestionLength = 10
	// MaxQuestionLength is the maximum raw length of a question body.
	MaxQuestionLength = 500
)

var (
	ErrQuestionEmpty    = errors.New("question cannot be empty")
	ErrQuestionTooShort = fmt.Errorf("question must be at least %d characters", MinQuestionLength)
	ErrQuestionTooLong  = fmt.Errorf("question must be at most %d characters", MaxQuestionLength)
	ErrInvalidQuestion  = errors.New("invalid question")
)

// Status is the moderation state of a question.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
	// StatusRejected marks a soft-deleted question; restore moves it back to pending.
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAnswered, StatusRejected:
		return true
	}
	return false
}

// Question is one submitted question in a room.
type Question struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id,omitempty"`
	Text        string    `json:"text"`
	UpvoteCount int       `json:"upvote_count"`
	Status      Status    `json:"status"`
	OwnerTag    string    `json:"owner_tag"`
	AnswerText  *string   `json:"answer_text,omitempty"` // only meaningful when Status is answered
	Reported    bool      `json:"reported"`
	ReportCount int       `json:"report_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy of q.
func (q Question) Clone() Question {
	if q.AnswerText != nil {
		a := *q.AnswerText
		q.AnswerText = &a
	}
	return q
}

// IsOwnedBy reports whether the question was submitted under tag.
func (q Question) IsOwnedBy(tag string) bool {
	return tag != "" && q.OwnerTag == tag
}

// Validate checks the fields a record must carry before it may enter a store.
// An empty status is normalised to pending.
func (q *Question) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidQuestion)
	}
	if q.Status == "" {
		q.Status = StatusPending
	}
	if !q.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidQuestion, q.Status)
	}
	if q.UpvoteCount < 0 {
		return fmt.Errorf("%w: negative upvote count", ErrInvalidQuestion)
	}
	return nil
}

// ValidateQuestionText enforces the submission limits on a question body.
func ValidateQuestionText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrQuestionEmpty
	}
	if utf8.RuneCountInString(trimmed) < MinQuestionLength {
		return ErrQuestionTooShort
	}
	if utf8.RuneCountInString(text) > MaxQuestionLength {
		return ErrQuestionTooLong
	}
	return nil
}

// ReportedQuestion is a question with its report tally, for the moderator reports view.
type ReportedQuestion struct {
	Question
	Reasons []string `json:"reasons"`
}
