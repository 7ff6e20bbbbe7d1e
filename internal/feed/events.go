package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qbox-app/backend/internal/models"
)

// EventKind is the wire name of a room event.
type EventKind string

const (
	EventCreated            EventKind = "question-created"
	EventUpvoted            EventKind = "question-upvoted"
	EventAnswered           EventKind = "question-answered"
	EventRejected           EventKind = "question-rejected"
	EventRestored           EventKind = "question-restored"
	EventPermanentlyDeleted EventKind = "question-deleted"
	EventReported           EventKind = "question-reported"

	EventVisibilityToggled EventKind = "visibility-toggled"
	EventRoomClosed        EventKind = "room-closed"
)

// Event is a decoded room event. Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	QuestionID  string
	Question    *models.Question // question-created
	UpvoteCount int              // question-upvoted
	AnswerText  *string          // question-answered, optional
	RoomID      string           // room events
	Visibility  models.Visibility
}

type idPayload struct {
	ID string `json:"id"`
}

type upvotePayload struct {
	ID          string `json:"id"`
	UpvoteCount *int   `json:"upvote_count"`
}

type answerPayload struct {
	ID         string  `json:"id"`
	AnswerText *string `json:"answer_text,omitempty"`
}

type visibilityPayload struct {
	RoomID           string `json:"room_id"`
	QuestionsVisible *bool  `json:"questions_visible"`
}

type roomPayload struct {
	RoomID string `json:"room_id"`
}

// CreatedEvent builds a question-created event.
func CreatedEvent(q models.Question) Event {
	c := q.Clone()
	return Event{Kind: EventCreated, QuestionID: q.ID, Question: &c}
}

// UpvotedEvent builds a question-upvoted event carrying the new total.
func UpvotedEvent(id string, count int) Event {
	return Event{Kind: EventUpvoted, QuestionID: id, UpvoteCount: count}
}

// AnsweredEvent builds a question-answered event.
func AnsweredEvent(id string, answerText *string) Event {
	return Event{Kind: EventAnswered, QuestionID: id, AnswerText: answerText}
}

// StatusEvent builds one of the id-only question events.
func StatusEvent(kind EventKind, id string) Event {
	return Event{Kind: kind, QuestionID: id}
}

// VisibilityEvent builds a visibility-toggled event.
func VisibilityEvent(roomID string, v models.Visibility) Event {
	return Event{Kind: EventVisibilityToggled, RoomID: roomID, Visibility: v}
}

// RoomClosedEvent builds a room-closed event.
func RoomClosedEvent(roomID string) Event {
	return Event{Kind: EventRoomClosed, RoomID: roomID}
}

// Payload returns the JSON-ready body published on the wire for e.
func (e Event) Payload() interface{} {
	switch e.Kind {
	case EventCreated:
		if e.Question == nil {
			return nil
		}
		return e.Question
	case EventUpvoted:
		n := e.UpvoteCount
		return upvotePayload{ID: e.QuestionID, UpvoteCount: &n}
	case EventAnswered:
		return answerPayload{ID: e.QuestionID, AnswerText: e.AnswerText}
	case EventVisibilityToggled:
		visible := e.Visibility == models.VisibilityVisible
		return visibilityPayload{RoomID: e.RoomID, QuestionsVisible: &visible}
	case EventRoomClosed:
		return roomPayload{RoomID: e.RoomID}
	default:
		return idPayload{ID: e.QuestionID}
	}
}

// Validate checks that the fields required by Kind are present.
func (e Event) Validate() error {
	switch e.Kind {
	case EventCreated:
		if e.Question == nil {
			return fmt.Errorf("%w: %s without question", ErrMalformedEvent, e.Kind)
		}
		if err := e.Question.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if e.QuestionID != e.Question.ID {
			return fmt.Errorf("%w: %s id mismatch", ErrMalformedEvent, e.Kind)
		}
	case EventUpvoted:
		if e.UpvoteCount < 0 {
			return fmt.Errorf("%w: negative upvote count", ErrMalformedEvent)
		}
	case EventAnswered, EventRejected, EventRestored, EventPermanentlyDeleted, EventReported:
	case EventVisibilityToggled:
		if e.Visibility != models.VisibilityVisible && e.Visibility != models.VisibilityPrivate {
			return fmt.Errorf("%w: visibility %q", ErrMalformedEvent, e.Visibility)
		}
		return nil
	case EventRoomClosed:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.Kind)
	}
	if strings.TrimSpace(e.QuestionID) == "" {
		return fmt.Errorf("%w: %s without id", ErrMalformedEvent, e.Kind)
	}
	return nil
}

// IsQuestionEvent reports whether e targets a single question record.
func (e Event) IsQuestionEvent() bool {
	return e.Kind != EventVisibilityToggled && e.Kind != EventRoomClosed
}

// ParseEvent decodes a wire event. Unknown names yield ErrUnknownEvent and
// payloads missing required fields yield ErrMalformedEvent.
func ParseEvent(name string, data []byte) (Event, error) {
	kind := EventKind(name)
	var ev Event
	switch kind {
	case EventCreated:
		var q models.Question
		if err := json.Unmarshal(data, &q); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ev = Event{Kind: kind, QuestionID: q.ID, Question: &q}
	case EventUpvoted:
		var p upvotePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if p.UpvoteCount == nil {
			return Event{}, fmt.Errorf("%w: %s without upvote_count", ErrMalformedEvent, kind)
		}
		ev = Event{Kind: kind, QuestionID: p.ID, UpvoteCount: *p.UpvoteCount}
	case EventAnswered:
		var p answerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ev = Event{Kind: kind, QuestionID: p.ID, AnswerText: p.AnswerText}
	case EventRejected, EventRestored, EventPermanentlyDeleted, EventReported:
		var p idPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ev = Event{Kind: kind, QuestionID: p.ID}
	case EventVisibilityToggled:
		var p visibilityPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if p.QuestionsVisible == nil {
			return Event{}, fmt.Errorf("%w: %s without questions_visible", ErrMalformedEvent, kind)
		}
		v := models.VisibilityPrivate
		if *p.QuestionsVisible {
			v = models.VisibilityVisible
		}
		ev = Event{Kind: kind, RoomID: p.RoomID, Visibility: v}
	case EventRoomClosed:
		var p roomPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		ev = Event{Kind: kind, RoomID: p.RoomID}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Handlers receives decoded events from an EventChannel, one callback per event kind.
// Nil callbacks are skipped.
type Handlers struct {
	OnCreated            func(q models.Question)
	OnUpvoted            func(id string, count int)
	OnAnswered           func(id string, answerText *string)
	OnRejected           func(id string)
	OnRestored           func(id string)
	OnPermanentlyDeleted func(id string)
	OnReported           func(id string)
	OnVisibilityChanged  func(v models.Visibility)
	OnRoomClosed         func()
}

// Dispatch routes e to the matching callback.
func (h Handlers) Dispatch(e Event) {
	switch e.Kind {
	case EventCreated:
		if h.OnCreated != nil && e.Question != nil {
			h.OnCreated(e.Question.Clone())
		}
	case EventUpvoted:
		if h.OnUpvoted != nil {
			h.OnUpvoted(e.QuestionID, e.UpvoteCount)
		}
	case EventAnswered:
		if h.OnAnswered != nil {
			h.OnAnswered(e.QuestionID, e.AnswerText)
		}
	case EventRejected:
		if h.OnRejected != nil {
			h.OnRejected(e.QuestionID)
		}
	case EventRestored:
		if h.OnRestored != nil {
			h.OnRestored(e.QuestionID)
		}
	case EventPermanentlyDeleted:
		if h.OnPermanentlyDeleted != nil {
			h.OnPermanentlyDeleted(e.QuestionID)
		}
	case EventReported:
		if h.OnReported != nil {
			h.OnReported(e.QuestionID)
		}
	case EventVisibilityToggled:
		if h.OnVisibilityChanged != nil {
			h.OnVisibilityChanged(e.Visibility)
		}
	case EventRoomClosed:
		if h.OnRoomClosed != nil {
			h.OnRoomClosed()
		}
	}
}
