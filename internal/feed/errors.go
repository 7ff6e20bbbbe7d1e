package feed

import "errors"

var (
	// ErrUnknownQuestion is returned when an operation names an id the store does not hold.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrMalformedEvent is returned when an event payload lacks a required field.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for event names outside the feed taxonomy.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrUnknownAction is returned for moderation actions outside the supported set.
	ErrUnknownAction = errors.New("unknown action")
	ErrClosed        = errors.New("synchronizer closed")
	ErrStarted       = errors.New("synchronizer already started")
)
