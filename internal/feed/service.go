package feed

import (
	"context"

	"github.com/qbox-app/backend/internal/models"
)

// FetchQuery scopes a full fetch of a room's questions.
type FetchQuery struct {
	ViewerTag       string
	IncludeRejected bool
}

// QuestionService is the remote source of truth for a room's questions.
type QuestionService interface {
	FetchAll(ctx context.Context, roomID string, q FetchQuery) ([]models.Question, error)
	Create(ctx context.Context, roomID, text, ownerTag string) (models.Question, error)
	Upvote(ctx context.Context, id, viewerTag string) (int, error)
	Report(ctx context.Context, id, viewerTag, reason string) error
	MarkAnswered(ctx context.Context, id string, answerText *string) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	PermanentDelete(ctx context.Context, id string) error
}

// EventChannel delivers a room's push events. The returned function releases
// the subscription; callers invoke it exactly once.
type EventChannel interface {
	Subscribe(ctx context.Context, roomID string, h Handlers) (unsubscribe func(), err error)
}
