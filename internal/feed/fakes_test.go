package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/qbox-app/backend/internal/models"
)

var errNetwork = errors.New("network unreachable")

type fakeService struct {
	mu        sync.Mutex
	questions []models.Question
	fetchErr  error
	actionErr error
	upvotes   int
	created   models.Question
	calls     []string
	// beforeFetch runs inside FetchAll, before the result is returned.
	beforeFetch func()
	// duringAction runs inside every action call.
	duringAction func()
}

func (f *fakeService) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.duringAction != nil {
		f.duringAction()
	}
}

func (f *fakeService) FetchAll(ctx context.Context, roomID string, q FetchQuery) ([]models.Question, error) {
	if f.beforeFetch != nil {
		f.beforeFetch()
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]models.Question, len(f.questions))
	copy(out, f.questions)
	return out, nil
}

func (f *fakeService) Create(ctx context.Context, roomID, text, ownerTag string) (models.Question, error) {
	f.record("create")
	if f.actionErr != nil {
		return models.Question{}, f.actionErr
	}
	q := f.created
	q.Text, q.OwnerTag, q.RoomID = text, ownerTag, roomID
	return q, nil
}

func (f *fakeService) Upvote(ctx context.Context, id, viewerTag string) (int, error) {
	f.record("upvote")
	return f.upvotes, f.actionErr
}

func (f *fakeService) Report(ctx context.Context, id, viewerTag, reason string) error {
	f.record("report")
	return f.actionErr
}

func (f *fakeService) MarkAnswered(ctx context.Context, id string, answerText *string) error {
	f.record("answer")
	return f.actionErr
}

func (f *fakeService) SoftDelete(ctx context.Context, id string) error {
	f.record("soft-delete")
	return f.actionErr
}

func (f *fakeService) Restore(ctx context.Context, id string) error {
	f.record("restore")
	return f.actionErr
}

func (f *fakeService) PermanentDelete(ctx context.Context, id string) error {
	f.record("permanent-delete")
	return f.actionErr
}

type fakeChannel struct {
	mu           sync.Mutex
	handlers     Handlers
	subscribed   int
	unsubscribed int
	err          error
}

func (c *fakeChannel) Subscribe(ctx context.Context, roomID string, h Handlers) (func(), error) {
	if c.err != nil {
		return nil, c.err
	}
	c.mu.Lock()
	c.handlers = h
	c.subscribed++
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.unsubscribed++
		c.mu.Unlock()
	}, nil
}

func (c *fakeChannel) emit(e Event) {
	c.mu.Lock()
	h := c.handlers
	c.mu.Unlock()
	h.Dispatch(e)
}
