package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbox-app/backend/internal/models"
)

func ids(qs []models.Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.ID)
	}
	return out
}

func TestProjectScenarioUpsertPatch(t *testing.T) {
	s := NewStore(nil)
	s.Upsert(models.Question{ID: "q1", Status: models.StatusPending, UpvoteCount: 0, OwnerTag: "s1", CreatedAt: t0})
	s.Patch("q1", Fields{UpvoteCount: intPtr(1)})

	got := Project(s.GetAll(), ViewOptions{Visibility: models.VisibilityVisible, Filter: FilterAll})
	require.Len(t, got, 1)
	assert.Equal(t, "q1", got[0].ID)
	assert.Equal(t, 1, got[0].UpvoteCount)
	assert.Equal(t, models.StatusPending, got[0].Status)
}

func TestProjectAnsweredFilter(t *testing.T) {
	qs := []models.Question{
		question("q1", "s1", models.StatusPending, t0),
		question("q2", "s2", models.StatusAnswered, t0),
	}
	got := Project(qs, ViewOptions{Visibility: models.VisibilityVisible, Filter: FilterAnswered})
	assert.Equal(t, []string{"q2"}, ids(got))
}

func TestProjectPrivateRoom(t *testing.T) {
	qs := []models.Question{
		question("q1", "A", models.StatusPending, t0),
		question("q2", "B", models.StatusPending, t0),
	}
	got := Project(qs, ViewOptions{Visibility: models.VisibilityPrivate, ViewerTag: "A"})
	assert.Equal(t, []string{"q1"}, ids(got))

	assert.Empty(t, Project(qs, ViewOptions{Visibility: models.VisibilityPrivate}))
}

func TestProjectFilters(t *testing.T) {
	reported := question("q4", "s2", models.StatusPending, t0.Add(3*time.Minute))
	reported.Reported = true
	reportedRejected := question("q5", "s2", models.StatusRejected, t0.Add(4*time.Minute))
	reportedRejected.Reported = true
	qs := []models.Question{
		question("q1", "me", models.StatusPending, t0),
		question("q2", "me", models.StatusRejected, t0.Add(time.Minute)),
		question("q3", "s2", models.StatusAnswered, t0.Add(2*time.Minute)),
		reported,
		reportedRejected,
	}

	cases := map[StatusFilter][]string{
		FilterAll:      {"q4", "q3", "q1"},
		"":             {"q4", "q3", "q1"},
		FilterMine:     {"q2", "q1"},
		FilterPending:  {"q4", "q1"},
		FilterAnswered: {"q3"},
		FilterRejected: {"q5", "q2"},
		FilterReported: {"q4"},
	}
	for f, want := range cases {
		got := Project(qs, ViewOptions{ViewerTag: "me", Filter: f})
		assert.Equal(t, want, ids(got), "filter %q", f)
	}

	counts := Counts(qs, ViewOptions{ViewerTag: "me"})
	assert.Equal(t, 3, counts[FilterAll])
	assert.Equal(t, 2, counts[FilterMine])
	assert.Equal(t, 2, counts[FilterRejected])
	assert.Equal(t, 1, counts[FilterReported])
}

func TestProjectSorting(t *testing.T) {
	a := question("a", "s1", models.StatusPending, t0)
	a.UpvoteCount = 5
	b := question("b", "s1", models.StatusPending, t0.Add(time.Minute))
	b.UpvoteCount = 5
	c := question("c", "s1", models.StatusPending, t0.Add(time.Minute))
	d := question("d", "s1", models.StatusPending, t0.Add(-time.Minute))
	d.UpvoteCount = 9
	qs := []models.Question{a, b, c, d}

	assert.Equal(t, []string{"b", "c", "a", "d"}, ids(Project(qs, ViewOptions{})))
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids(Project(qs, ViewOptions{Sort: SortOldest})))
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids(Project(qs, ViewOptions{Sort: SortUpvotes})))
}

func TestProjectDoesNotMutateInput(t *testing.T) {
	qs := []models.Question{
		question("q1", "s1", models.StatusPending, t0),
		question("q2", "s1", models.StatusPending, t0.Add(time.Hour)),
	}
	got := Project(qs, ViewOptions{})
	got[0].UpvoteCount = 42

	assert.Equal(t, "q1", qs[0].ID)
	assert.Zero(t, qs[1].UpvoteCount)
}

func TestProjectEmpty(t *testing.T) {
	got := Project(nil, ViewOptions{})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSummarize(t *testing.T) {
	r := question("q3", "s2", models.StatusRejected, t0)
	r.Reported = true
	a := question("q2", "s1", models.StatusAnswered, t0)
	a.UpvoteCount = 4
	sum := Summarize([]models.Question{question("q1", "s1", models.StatusPending, t0), a, r})

	assert.Equal(t, Summary{Total: 3, Pending: 1, Answered: 1, Rejected: 1, Reported: 1, TotalUpvotes: 4, Askers: 2}, sum)
}
