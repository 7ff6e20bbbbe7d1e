package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/models"
)

// localIDPrefix marks optimistic records that have not been confirmed by the service.
const localIDPrefix = "local:"

// ActionKind names a user-initiated action on a question.
type ActionKind string

const (
	ActionUpvote          ActionKind = "upvote"
	ActionReport          ActionKind = "report"
	ActionAnswer          ActionKind = "answer"
	ActionReject          ActionKind = "reject"
	ActionRestore         ActionKind = "restore"
	ActionPermanentDelete ActionKind = "permanent-delete"
)

// Action is a moderation or voting request for one question.
type Action struct {
	Kind       ActionKind
	QuestionID string
	ViewerTag  string  // upvote, report
	AnswerText *string // answer
	Reason     string  // report
}

// Options configures a Synchronizer.
type Options struct {
	Logger *zap.Logger
	// Fetch scopes the initial fetch and every refresh.
	Fetch FetchQuery
	// Visibility is the room policy until a visibility event says otherwise.
	Visibility models.Visibility
	ParkLimit  int
	// OnChange is called, outside any lock, after the local state changed.
	OnChange func()
	// OnVisibility is called, outside any lock, when the room policy changed.
	OnVisibility func(v models.Visibility)
}

// pendingAction is a Submit whose service call has not returned yet. It is
// confirmed when the room reports the same change, after which a failed
// call no longer rolls the optimistic patch back.
type pendingAction struct {
	kind      ActionKind
	confirmed bool
}

var confirmingEvent = map[ActionKind]EventKind{
	ActionUpvote:          EventUpvoted,
	ActionReport:          EventReported,
	ActionAnswer:          EventAnswered,
	ActionReject:          EventRejected,
	ActionRestore:         EventRestored,
	ActionPermanentDelete: EventPermanentlyDeleted,
}

// Synchronizer keeps one room's local question store consistent with the
// QuestionService under push events and local actions. One instance serves
// one room view; Close releases its subscription.
type Synchronizer struct {
	roomID   string
	service  QuestionService
	channel  EventChannel
	fetchQ   FetchQuery
	onChange func()
	onVis    func(models.Visibility)
	logger   *zap.Logger

	mu          sync.Mutex
	store       *Store
	rec         *Reconciler
	visibility  models.Visibility
	roomClosed  bool
	started     bool
	closed      bool
	fetching    int
	journal     []Event
	inflight    map[string][]*pendingAction
	unsubscribe func()
	closeOnce   sync.Once
}

// New creates a Synchronizer for roomID. Call Start before use.
func New(roomID string, service QuestionService, channel EventChannel, opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("room_id", roomID))
	vis := opts.Visibility
	if vis == "" {
		vis = models.VisibilityVisible
	}
	store := NewStore(logger)
	return &Synchronizer{
		roomID:     roomID,
		service:    service,
		channel:    channel,
		fetchQ:     opts.Fetch,
		onChange:   opts.OnChange,
		logger:     logger,
		store:      store,
		rec:        NewReconciler(store, opts.ParkLimit, logger),
		visibility: vis,
		inflight:   make(map[string][]*pendingAction),
		onVis:      opts.OnVisibility,
	}
}

// Start subscribes to the room's events and loads the initial state. Events
// that arrive while the fetch is in flight are replayed over the fetched snapshot.
// On failure the subscription is released and Start may be retried.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	s.fetching++
	s.mu.Unlock()

	unsubscribe, err := s.channel.Subscribe(ctx, s.roomID, s.handlers())
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.endFetch()
		s.mu.Unlock()
		return fmt.Errorf("subscribe room %s: %w", s.roomID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return ErrClosed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		s.mu.Lock()
		s.started = false
		s.unsubscribe = nil
		s.mu.Unlock()
		unsubscribe()
		return err
	}
	s.logger.Info("feed synchronizer started")
	return nil
}

// Refresh re-fetches the room and replaces the store wholesale. On error the
// store is left as it was.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.fetching++
	s.mu.Unlock()
	return s.load(ctx)
}

// load expects fetching to have been incremented by the caller.
func (s *Synchronizer) load(ctx context.Context) error {
	list, err := s.service.FetchAll(ctx, s.roomID, s.fetchQ)

	s.mu.Lock()
	if err != nil {
		s.endFetch()
		s.mu.Unlock()
		return fmt.Errorf("fetch questions: %w", err)
	}
	if s.closed {
		s.endFetch()
		s.mu.Unlock()
		return ErrClosed
	}
	s.store.Replace(list)
	for _, e := range s.journal {
		s.rec.Apply(e)
	}
	s.rec.Resolve()
	s.endFetch()
	s.mu.Unlock()

	s.logger.Debug("questions loaded", zap.Int("count", len(list)))
	s.notify()
	return nil
}

func (s *Synchronizer) endFetch() {
	s.fetching--
	if s.fetching <= 0 {
		s.fetching = 0
		s.journal = nil
	}
}

// Close releases the event subscription. Events delivered afterwards are ignored.
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		s.logger.Info("feed synchronizer closed")
	})
}

// Apply reconciles a single event into the store. EventChannel implementations
// normally reach it through the Handlers installed by Start.
func (s *Synchronizer) Apply(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("event after close dropped", zap.String("event", string(e.Kind)))
		return
	}
	var changed, visChanged bool
	switch e.Kind {
	case EventVisibilityToggled:
		visChanged = e.Validate() == nil && s.visibility != e.Visibility
		if visChanged {
			s.visibility = e.Visibility
		}
		changed = visChanged
	case EventRoomClosed:
		changed = !s.roomClosed
		s.roomClosed = true
	default:
		if s.fetching > 0 {
			s.journal = append(s.journal, e)
		}
		s.confirm(e)
		changed = s.rec.Apply(e)
	}
	s.mu.Unlock()
	if visChanged && s.onVis != nil {
		s.onVis(e.Visibility)
	}
	if changed {
		s.notify()
	}
}

// confirm marks in-flight actions on e's question that e reports as done.
func (s *Synchronizer) confirm(e Event) {
	if e.Validate() != nil {
		return
	}
	for _, p := range s.inflight[e.QuestionID] {
		if confirmingEvent[p.kind] == e.Kind {
			p.confirmed = true
		}
	}
}

func (s *Synchronizer) track(a Action) *pendingAction {
	p := &pendingAction{kind: a.Kind}
	s.inflight[a.QuestionID] = append(s.inflight[a.QuestionID], p)
	return p
}

func (s *Synchronizer) untrack(id string, p *pendingAction) {
	list := s.inflight[id]
	for i, cur := range list {
		if cur == p {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.inflight, id)
		return
	}
	s.inflight[id] = list
}

func (s *Synchronizer) handlers() Handlers {
	return Handlers{
		OnCreated:            func(q models.Question) { s.Apply(CreatedEvent(q)) },
		OnUpvoted:            func(id string, n int) { s.Apply(UpvotedEvent(id, n)) },
		OnAnswered:           func(id string, a *string) { s.Apply(AnsweredEvent(id, a)) },
		OnRejected:           func(id string) { s.Apply(StatusEvent(EventRejected, id)) },
		OnRestored:           func(id string) { s.Apply(StatusEvent(EventRestored, id)) },
		OnPermanentlyDeleted: func(id string) { s.Apply(StatusEvent(EventPermanentlyDeleted, id)) },
		OnReported:           func(id string) { s.Apply(StatusEvent(EventReported, id)) },
		OnVisibilityChanged:  func(v models.Visibility) { s.Apply(VisibilityEvent(s.roomID, v)) },
		OnRoomClosed:         func() { s.Apply(RoomClosedEvent(s.roomID)) },
	}
}

// Projected returns the view for opts. An empty opts.Visibility uses the room's current policy.
func (s *Synchronizer) Projected(opts ViewOptions) []models.Question {
	all, opts := s.snapshot(opts)
	return Project(all, opts)
}

// Counts returns per-filter badge counts for opts.
func (s *Synchronizer) Counts(opts ViewOptions) map[StatusFilter]int {
	all, opts := s.snapshot(opts)
	return Counts(all, opts)
}

// Snapshot returns a copy of every record currently held.
func (s *Synchronizer) Snapshot() []models.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.GetAll()
}

func (s *Synchronizer) snapshot(opts ViewOptions) ([]models.Question, ViewOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.Visibility == "" {
		opts.Visibility = s.visibility
	}
	return s.store.GetAll(), opts
}

// Visibility returns the room's current visibility policy.
func (s *Synchronizer) Visibility() models.Visibility {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibility
}

// SetVisibility overrides the room policy, e.g. after the room was re-fetched.
func (s *Synchronizer) SetVisibility(v models.Visibility) {
	s.Apply(VisibilityEvent(s.roomID, v))
}

// RoomClosed reports whether a room-closed event was received.
func (s *Synchronizer) RoomClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomClosed
}

// Ask submits a new question. A local placeholder is shown until the service
// confirms; the confirmed record then replaces it.
func (s *Synchronizer) Ask(ctx context.Context, text, ownerTag string) (models.Question, error) {
	if err := models.ValidateQuestionText(text); err != nil {
		return models.Question{}, err
	}
	localID := localIDPrefix + uuid.NewString()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.Question{}, ErrClosed
	}
	s.store.Upsert(models.Question{
		ID:        localID,
		RoomID:    s.roomID,
		Text:      text,
		Status:    models.StatusPending,
		OwnerTag:  ownerTag,
		CreatedAt: time.Now(),
	})
	s.mu.Unlock()
	s.notify()

	q, err := s.service.Create(ctx, s.roomID, text, ownerTag)

	s.mu.Lock()
	s.store.discard(localID)
	if err == nil && !s.closed {
		s.store.Upsert(q)
		s.rec.Resolve()
	}
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return models.Question{}, fmt.Errorf("create question: %w", err)
	}
	return q, nil
}

// Submit performs a moderation or voting action. The local store is patched
// immediately; if the service call fails the patch is rolled back and the
// error returned. A failed call whose change the room already reported keeps
// the patch, since the server committed it.
func (s *Synchronizer) Submit(ctx context.Context, a Action) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	before, ok := s.store.Get(a.QuestionID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s %s: %w", a.Kind, a.QuestionID, ErrUnknownQuestion)
	}
	after, err := optimistic(before, a)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if a.Kind == ActionPermanentDelete {
		s.store.Remove(a.QuestionID)
	} else {
		s.store.mutate(a.QuestionID, func(q *models.Question) { *q = after.Clone() })
	}
	pending := s.track(a)
	s.mu.Unlock()
	s.notify()

	count, err := s.call(ctx, a)

	s.mu.Lock()
	s.untrack(a.QuestionID, pending)
	log := s.logger.With(zap.String("action", string(a.Kind)), zap.String("question_id", a.QuestionID))
	switch {
	case err != nil && pending.confirmed:
		log.Warn("action failed but the room reported it done, kept", zap.Error(err))
	case err != nil:
		s.rollback(a, before, after)
		log.Warn("action failed, rolled back", zap.Error(err))
	case a.Kind == ActionUpvote:
		s.store.mutate(a.QuestionID, func(q *models.Question) {
			if q.UpvoteCount == after.UpvoteCount || count > q.UpvoteCount {
				q.UpvoteCount = count
			}
		})
	}
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return fmt.Errorf("%s %s: %w", a.Kind, a.QuestionID, err)
	}
	return nil
}

func (s *Synchronizer) call(ctx context.Context, a Action) (int, error) {
	switch a.Kind {
	case ActionUpvote:
		return s.service.Upvote(ctx, a.QuestionID, a.ViewerTag)
	case ActionReport:
		return 0, s.service.Report(ctx, a.QuestionID, a.ViewerTag, a.Reason)
	case ActionAnswer:
		return 0, s.service.MarkAnswered(ctx, a.QuestionID, a.AnswerText)
	case ActionReject:
		return 0, s.service.SoftDelete(ctx, a.QuestionID)
	case ActionRestore:
		return 0, s.service.Restore(ctx, a.QuestionID)
	case ActionPermanentDelete:
		return 0, s.service.PermanentDelete(ctx, a.QuestionID)
	}
	return 0, ErrUnknownAction
}

// rollback restores each field the action touched, unless a newer event has
// already changed it since.
func (s *Synchronizer) rollback(a Action, before, after models.Question) {
	if a.Kind == ActionPermanentDelete {
		if !s.store.Has(before.ID) {
			s.store.put(before)
		}
		return
	}
	s.store.mutate(a.QuestionID, func(q *models.Question) {
		if q.UpvoteCount == after.UpvoteCount {
			q.UpvoteCount = before.UpvoteCount
		}
		if q.Status == after.Status {
			q.Status = before.Status
		}
		if q.Reported == after.Reported {
			q.Reported = before.Reported
		}
		if sameText(q.AnswerText, after.AnswerText) {
			q.AnswerText = before.Clone().AnswerText
		}
	})
}

func optimistic(q models.Question, a Action) (models.Question, error) {
	out := q.Clone()
	switch a.Kind {
	case ActionUpvote:
		out.UpvoteCount++
	case ActionReport:
		out.Reported = true
	case ActionAnswer:
		out.Status = models.StatusAnswered
		if a.AnswerText != nil {
			t := *a.AnswerText
			out.AnswerText = &t
		}
	case ActionReject:
		out.Status = models.StatusRejected
	case ActionRestore:
		out.Status = models.StatusPending
	case ActionPermanentDelete:
	default:
		return out, fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
	}
	return out, nil
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Synchronizer) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}
