package feed

import (
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/models"
)

// DefaultParkLimit bounds how many early patches are held for ids not yet created.
const DefaultParkLimit = 256

// Reconciler applies room events to a Store. Every event kind maps onto a
// field-level merge, so duplicates and reordering converge on the same state.
// Patches that arrive before their question-created event are parked and
// replayed once the record exists.
type Reconciler struct {
	store     *Store
	parked    map[string][]Event
	nParked   int
	parkLimit int
	logger    *zap.Logger
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store *Store, parkLimit int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parkLimit <= 0 {
		parkLimit = DefaultParkLimit
	}
	return &Reconciler{
		store:     store,
		parked:    make(map[string][]Event),
		parkLimit: parkLimit,
		logger:    logger,
	}
}

// Apply reconciles one event and reports whether the store changed.
// Malformed events are logged and dropped.
func (r *Reconciler) Apply(e Event) bool {
	if err := e.Validate(); err != nil {
		r.logger.Warn("event dropped", zap.String("event", string(e.Kind)), zap.String("question_id", e.QuestionID), zap.Error(err))
		return false
	}
	if !e.IsQuestionEvent() {
		return false
	}
	if r.store.Deleted(e.QuestionID) {
		r.logger.Debug("event for deleted question dropped", zap.String("event", string(e.Kind)), zap.String("question_id", e.QuestionID))
		return false
	}

	switch e.Kind {
	case EventCreated:
		changed := r.store.Upsert(*e.Question)
		if r.replayParked(e.QuestionID) {
			changed = true
		}
		return changed
	case EventPermanentlyDeleted:
		r.dropParked(e.QuestionID)
		return r.store.Remove(e.QuestionID)
	}

	if !r.store.Has(e.QuestionID) {
		r.park(e)
		return false
	}
	return r.store.Patch(e.QuestionID, fieldsFor(e))
}

// Resolve replays parked events whose records now exist, e.g. after a fetch.
func (r *Reconciler) Resolve() bool {
	changed := false
	for id := range r.parked {
		if r.store.Has(id) && r.replayParked(id) {
			changed = true
		}
	}
	return changed
}

// Parked returns the number of events waiting for their question to appear.
func (r *Reconciler) Parked() int { return r.nParked }

// park holds e until its question exists. An event equal to one already parked
// is skipped; a fetch journal replays events that were parked when they arrived.
func (r *Reconciler) park(e Event) {
	for _, p := range r.parked[e.QuestionID] {
		if sameEvent(p, e) {
			return
		}
	}
	if r.nParked >= r.parkLimit {
		r.logger.Warn("park buffer full, event dropped", zap.String("event", string(e.Kind)), zap.String("question_id", e.QuestionID))
		return
	}
	r.parked[e.QuestionID] = append(r.parked[e.QuestionID], e)
	r.nParked++
	r.logger.Debug("event parked for unknown question", zap.String("event", string(e.Kind)), zap.String("question_id", e.QuestionID))
}

func (r *Reconciler) replayParked(id string) bool {
	events := r.parked[id]
	r.dropParked(id)
	changed := false
	for _, e := range events {
		if r.store.Patch(id, fieldsFor(e)) {
			changed = true
		}
	}
	return changed
}

func (r *Reconciler) dropParked(id string) {
	r.nParked -= len(r.parked[id])
	delete(r.parked, id)
}

func sameEvent(a, b Event) bool {
	return a.Kind == b.Kind && a.QuestionID == b.QuestionID &&
		a.UpvoteCount == b.UpvoteCount && sameText(a.AnswerText, b.AnswerText)
}

// fieldsFor maps a patching event onto the fields it owns.
func fieldsFor(e Event) Fields {
	switch e.Kind {
	case EventUpvoted:
		n := e.UpvoteCount
		return Fields{UpvoteCount: &n}
	case EventAnswered:
		s := models.StatusAnswered
		return Fields{Status: &s, AnswerText: e.AnswerText}
	case EventRejected:
		s := models.StatusRejected
		return Fields{Status: &s}
	case EventRestored:
		s := models.StatusPending
		return Fields{Status: &s}
	case EventReported:
		t := true
		return Fields{Reported: &t}
	}
	return Fields{}
}
