package feed

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-app/backend/internal/models"
)

func startSync(t *testing.T, svc *fakeService, ch *fakeChannel, opts Options) *Synchronizer {
	t.Helper()
	s := New("room-1", svc, ch, opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func TestSynchronizerStartLoadsAndSubscribes(t *testing.T) {
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}}
	ch := &fakeChannel{}
	var changes int32
	s := startSync(t, svc, ch, Options{OnChange: func() { atomic.AddInt32(&changes, 1) }})

	assert.Equal(t, 1, ch.subscribed)
	assert.Equal(t, []string{"q1"}, ids(s.Projected(ViewOptions{})))
	assert.NotZero(t, atomic.LoadInt32(&changes))

	assert.ErrorIs(t, s.Start(context.Background()), ErrStarted)
}

func TestSynchronizerEventsDuringFetchAreReplayed(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}}
	svc.beforeFetch = func() {
		ch.emit(UpvotedEvent("q1", 2))
		ch.emit(CreatedEvent(question("q2", "s2", models.StatusPending, t0)))
	}
	s := startSync(t, svc, ch, Options{})

	all := s.Projected(ViewOptions{Sort: SortUpvotes})
	require.Equal(t, []string{"q1", "q2"}, ids(all))
	assert.Equal(t, 2, all[0].UpvoteCount)
}

func TestSynchronizerStartFailureReleasesSubscription(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{fetchErr: errNetwork}
	s := New("room-1", svc, ch, Options{})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, 1, ch.unsubscribed)

	svc.fetchErr = nil
	require.NoError(t, s.Start(context.Background()))
	s.Close()
	assert.Equal(t, 2, ch.unsubscribed)
}

func TestSynchronizerRefreshFailureLeavesStore(t *testing.T) {
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}}
	s := startSync(t, svc, &fakeChannel{}, Options{})

	svc.fetchErr = errNetwork
	svc.questions = nil
	require.ErrorIs(t, s.Refresh(context.Background()), errNetwork)
	assert.Len(t, s.Snapshot(), 1)

	svc.fetchErr = nil
	require.NoError(t, s.Refresh(context.Background()))
	assert.Empty(t, s.Snapshot())
}

func TestSynchronizerCloseReleasesOnce(t *testing.T) {
	ch := &fakeChannel{}
	s := startSync(t, &fakeService{}, ch, Options{})

	s.Close()
	s.Close()
	assert.Equal(t, 1, ch.unsubscribed)

	ch.emit(CreatedEvent(question("q1", "s1", models.StatusPending, t0)))
	assert.Empty(t, s.Snapshot())
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrClosed)
}

func TestSynchronizerOptimisticUpvoteConfirmed(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, upvotes: 1}
	s := startSync(t, svc, ch, Options{})

	var during int
	svc.duringAction = func() {
		during = s.Snapshot()[0].UpvoteCount
		ch.emit(UpvotedEvent("q1", 1))
	}
	require.NoError(t, s.Submit(context.Background(), Action{Kind: ActionUpvote, QuestionID: "q1", ViewerTag: "s2"}))

	assert.Equal(t, 1, during)
	assert.Equal(t, 1, s.Snapshot()[0].UpvoteCount, "confirming event must not double count")
}

func TestSynchronizerUpvoteRolledBackOnFailure(t *testing.T) {
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, actionErr: errNetwork}
	s := startSync(t, svc, &fakeChannel{}, Options{})

	err := s.Submit(context.Background(), Action{Kind: ActionUpvote, QuestionID: "q1"})
	require.ErrorIs(t, err, errNetwork)
	assert.Zero(t, s.Snapshot()[0].UpvoteCount)
}

func TestSynchronizerRollbackKeepsNewerRemoteState(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, actionErr: errNetwork}
	s := startSync(t, svc, ch, Options{})
	svc.duringAction = func() { ch.emit(UpvotedEvent("q1", 5)) }

	require.Error(t, s.Submit(context.Background(), Action{Kind: ActionUpvote, QuestionID: "q1"}))
	assert.Equal(t, 5, s.Snapshot()[0].UpvoteCount)
}

func TestSynchronizerModeration(t *testing.T) {
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}}
	s := startSync(t, svc, &fakeChannel{}, Options{})
	ctx := context.Background()
	answer := "next lecture"

	require.NoError(t, s.Submit(ctx, Action{Kind: ActionAnswer, QuestionID: "q1", AnswerText: &answer}))
	got := s.Projected(ViewOptions{Filter: FilterAnswered})
	require.Len(t, got, 1)
	assert.Equal(t, answer, *got[0].AnswerText)

	require.NoError(t, s.Submit(ctx, Action{Kind: ActionReject, QuestionID: "q1"}))
	assert.Empty(t, s.Projected(ViewOptions{Filter: FilterAll}))
	assert.Len(t, s.Projected(ViewOptions{Filter: FilterRejected}), 1)

	require.NoError(t, s.Submit(ctx, Action{Kind: ActionRestore, QuestionID: "q1"}))
	assert.Len(t, s.Projected(ViewOptions{Filter: FilterPending}), 1)

	require.NoError(t, s.Submit(ctx, Action{Kind: ActionReport, QuestionID: "q1", ViewerTag: "s2", Reason: "spam"}))
	assert.Len(t, s.Projected(ViewOptions{Filter: FilterReported}), 1)

	require.NoError(t, s.Submit(ctx, Action{Kind: ActionPermanentDelete, QuestionID: "q1"}))
	assert.Empty(t, s.Snapshot())
	s.Apply(UpvotedEvent("q1", 3))
	assert.Empty(t, s.Snapshot())

	assert.Equal(t, []string{"answer", "soft-delete", "restore", "report", "permanent-delete"}, svc.calls)
}

func TestSynchronizerFailedModerationRollsBack(t *testing.T) {
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, actionErr: errNetwork}
	s := startSync(t, svc, &fakeChannel{}, Options{})
	ctx := context.Background()

	require.Error(t, s.Submit(ctx, Action{Kind: ActionReject, QuestionID: "q1"}))
	require.Error(t, s.Submit(ctx, Action{Kind: ActionPermanentDelete, QuestionID: "q1"}))

	all := s.Snapshot()
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusPending, all[0].Status)

	s.Apply(UpvotedEvent("q1", 2))
	assert.Equal(t, 2, s.Snapshot()[0].UpvoteCount, "rolled back delete must accept events again")
}

func TestSynchronizerSubmitUnknown(t *testing.T) {
	s := startSync(t, &fakeService{}, &fakeChannel{}, Options{})
	assert.ErrorIs(t, s.Submit(context.Background(), Action{Kind: ActionUpvote, QuestionID: "nope"}), ErrUnknownQuestion)

	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}}
	s = startSync(t, svc, &fakeChannel{}, Options{})
	assert.ErrorIs(t, s.Submit(context.Background(), Action{Kind: "pin", QuestionID: "q1"}), ErrUnknownAction)
	assert.Empty(t, svc.calls)
}

func TestSynchronizerAsk(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{created: question("q9", "", models.StatusPending, t0)}
	s := startSync(t, svc, ch, Options{})

	var placeholder []models.Question
	svc.duringAction = func() {
		placeholder = s.Snapshot()
		ch.emit(CreatedEvent(question("q9", "me", models.StatusPending, t0)))
	}
	q, err := s.Ask(context.Background(), "How does the garbage collector work?", "me")
	require.NoError(t, err)
	assert.Equal(t, "q9", q.ID)

	require.Len(t, placeholder, 1)
	assert.True(t, strings.HasPrefix(placeholder[0].ID, localIDPrefix))
	assert.Equal(t, []string{"q9"}, ids(s.Projected(ViewOptions{Filter: FilterMine, ViewerTag: "me"})))
}

func TestSynchronizerAskValidatesAndRollsBack(t *testing.T) {
	svc := &fakeService{actionErr: errNetwork}
	s := startSync(t, svc, &fakeChannel{}, Options{})

	_, err := s.Ask(context.Background(), "why?", "me")
	assert.ErrorIs(t, err, models.ErrQuestionTooShort)
	assert.Empty(t, svc.calls)

	_, err = s.Ask(context.Background(), "What is the exam format this year?", "me")
	assert.ErrorIs(t, err, errNetwork)
	assert.Empty(t, s.Snapshot())
}

func TestSynchronizerRoomEvents(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{
		question("q1", "A", models.StatusPending, t0),
		question("q2", "B", models.StatusPending, t0),
	}}
	s := startSync(t, svc, ch, Options{Visibility: models.VisibilityVisible})

	assert.Len(t, s.Projected(ViewOptions{ViewerTag: "A"}), 2)

	ch.emit(VisibilityEvent("room-1", models.VisibilityPrivate))
	assert.Equal(t, models.VisibilityPrivate, s.Visibility())
	assert.Equal(t, []string{"q1"}, ids(s.Projected(ViewOptions{ViewerTag: "A"})))
	assert.Equal(t, 1, s.Counts(ViewOptions{ViewerTag: "A"})[FilterAll])

	assert.False(t, s.RoomClosed())
	ch.emit(RoomClosedEvent("room-1"))
	assert.True(t, s.RoomClosed())
}

func TestSynchronizerConfirmedDeleteSurvivesFailedCall(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, actionErr: errNetwork}
	s := startSync(t, svc, ch, Options{})
	svc.duringAction = func() { ch.emit(StatusEvent(EventPermanentlyDeleted, "q1")) }

	require.ErrorIs(t, s.Submit(context.Background(), Action{Kind: ActionPermanentDelete, QuestionID: "q1"}), errNetwork)
	assert.Empty(t, s.Snapshot())

	ch.emit(UpvotedEvent("q1", 3))
	assert.Empty(t, s.Snapshot(), "deleted question must stay deleted")
}

func TestSynchronizerConfirmedRejectSurvivesFailedCall(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, actionErr: errNetwork}
	s := startSync(t, svc, ch, Options{})
	svc.duringAction = func() { ch.emit(StatusEvent(EventRejected, "q1")) }

	require.Error(t, s.Submit(context.Background(), Action{Kind: ActionReject, QuestionID: "q1"}))
	all := s.Snapshot()
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusRejected, all[0].Status)
}

func TestSynchronizerConfirmedUpvoteSurvivesFailedCall(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}, actionErr: errNetwork}
	s := startSync(t, svc, ch, Options{})
	svc.duringAction = func() { ch.emit(UpvotedEvent("q1", 1)) }

	require.Error(t, s.Submit(context.Background(), Action{Kind: ActionUpvote, QuestionID: "q1", ViewerTag: "s2"}))
	assert.Equal(t, 1, s.Snapshot()[0].UpvoteCount)
}

func TestSynchronizerUnrelatedEventDoesNotConfirm(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{
		question("q1", "s1", models.StatusPending, t0),
		question("q2", "s1", models.StatusPending, t0),
	}, actionErr: errNetwork}
	s := startSync(t, svc, ch, Options{})
	svc.duringAction = func() {
		ch.emit(StatusEvent(EventRejected, "q2"))
		ch.emit(StatusEvent(EventReported, "q1"))
	}

	require.Error(t, s.Submit(context.Background(), Action{Kind: ActionReject, QuestionID: "q1"}))
	for _, q := range s.Snapshot() {
		if q.ID == "q1" {
			assert.Equal(t, models.StatusPending, q.Status)
			assert.True(t, q.Reported)
		}
	}
}

func TestSynchronizerEventDuringFetchParkedOnce(t *testing.T) {
	ch := &fakeChannel{}
	svc := &fakeService{questions: []models.Question{question("q1", "s1", models.StatusPending, t0)}}
	svc.beforeFetch = func() { ch.emit(UpvotedEvent("q9", 4)) }
	s := startSync(t, svc, ch, Options{})

	assert.Equal(t, 1, s.rec.Parked())

	s.Apply(CreatedEvent(question("q9", "s2", models.StatusPending, t0)))
	assert.Zero(t, s.rec.Parked())
	for _, q := range s.Snapshot() {
		if q.ID == "q9" {
			assert.Equal(t, 4, q.UpvoteCount)
		}
	}
}

func TestSynchronizerReportsVisibilityChanges(t *testing.T) {
	ch := &fakeChannel{}
	var got []models.Visibility
	s := startSync(t, &fakeService{}, ch, Options{
		Visibility:   models.VisibilityPrivate,
		OnVisibility: func(v models.Visibility) { got = append(got, v) },
	})

	ch.emit(VisibilityEvent("room-1", models.VisibilityVisible))
	ch.emit(VisibilityEvent("room-1", models.VisibilityVisible))
	s.SetVisibility(models.VisibilityPrivate)

	assert.Equal(t, []models.Visibility{models.VisibilityVisible, models.VisibilityPrivate}, got)
}
