package feed

import (
	"sort"

	"github.com/qbox-app/backend/internal/models"
)

// StatusFilter selects which questions a view shows.
type StatusFilter string

const (
	// FilterAll shows everything except rejected questions.
	FilterAll      StatusFilter = "all"
	FilterMine     StatusFilter = "mine"
	FilterPending  StatusFilter = "pending"
	FilterAnswered StatusFilter = "answered"
	FilterRejected StatusFilter = "rejected"
	// FilterReported shows reported questions that have not been rejected.
	FilterReported StatusFilter = "reported"
)

// Filters lists the filters in tab order.
var Filters = []StatusFilter{FilterAll, FilterMine, FilterPending, FilterAnswered, FilterRejected, FilterReported}

// SortMode orders a projection.
type SortMode string

const (
	SortNewest  SortMode = "newest"
	SortOldest  SortMode = "oldest"
	SortUpvotes SortMode = "upvotes"
)

// ViewOptions parameterises a projection. An empty Visibility is treated as
// visible, an empty Filter as FilterAll and an empty Sort as SortNewest.
type ViewOptions struct {
	Visibility models.Visibility
	ViewerTag  string
	Filter     StatusFilter
	Sort       SortMode
}

// Project returns the ordered list a view should render. The input is not modified.
func Project(questions []models.Question, opts ViewOptions) []models.Question {
	out := make([]models.Question, 0, len(questions))
	for _, q := range questions {
		if !visibleTo(q, opts) || !matches(q, opts.Filter, opts.ViewerTag) {
			continue
		}
		out = append(out, q.Clone())
	}
	sortQuestions(out, opts.Sort)
	return out
}

// Counts returns, for every filter, how many questions the view would show.
func Counts(questions []models.Question, opts ViewOptions) map[StatusFilter]int {
	counts := make(map[StatusFilter]int, len(Filters))
	for _, f := range Filters {
		counts[f] = 0
	}
	for _, q := range questions {
		if !visibleTo(q, opts) {
			continue
		}
		for _, f := range Filters {
			if matches(q, f, opts.ViewerTag) {
				counts[f]++
			}
		}
	}
	return counts
}

// Summary aggregates a room's questions for the analytics view.
type Summary struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Answered     int `json:"answered"`
	Rejected     int `json:"rejected"`
	Reported     int `json:"reported"`
	TotalUpvotes int `json:"total_upvotes"`
	Askers       int `json:"askers"`
}

// Summarize derives the analytics summary from the full question list.
func Summarize(questions []models.Question) Summary {
	var s Summary
	askers := make(map[string]struct{})
	for _, q := range questions {
		s.Total++
		switch q.Status {
		case models.StatusPending:
			s.Pending++
		case models.StatusAnswered:
			s.Answered++
		case models.StatusRejected:
			s.Rejected++
		}
		if q.Reported {
			s.Reported++
		}
		s.TotalUpvotes += q.UpvoteCount
		if q.OwnerTag != "" {
			askers[q.OwnerTag] = struct{}{}
		}
	}
	s.Askers = len(askers)
	return s
}

func visibleTo(q models.Question, opts ViewOptions) bool {
	if opts.Visibility == models.VisibilityPrivate {
		return q.IsOwnedBy(opts.ViewerTag)
	}
	return true
}

func matches(q models.Question, f StatusFilter, viewer string) bool {
	switch f {
	case "", FilterAll:
		return q.Status != models.StatusRejected
	case FilterMine:
		return q.IsOwnedBy(viewer)
	case FilterPending:
		return q.Status == models.StatusPending
	case FilterAnswered:
		return q.Status == models.StatusAnswered
	case FilterRejected:
		return q.Status == models.StatusRejected
	case FilterReported:
		return q.Reported && q.Status != models.StatusRejected
	}
	return false
}

func sortQuestions(qs []models.Question, mode SortMode) {
	newer := func(a, b models.Question) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	}
	switch mode {
	case SortOldest:
		sort.SliceStable(qs, func(i, j int) bool {
			if !qs[i].CreatedAt.Equal(qs[j].CreatedAt) {
				return qs[i].CreatedAt.Before(qs[j].CreatedAt)
			}
			return qs[i].ID < qs[j].ID
		})
	case SortUpvotes:
		sort.SliceStable(qs, func(i, j int) bool {
			if qs[i].UpvoteCount != qs[j].UpvoteCount {
				return qs[i].UpvoteCount > qs[j].UpvoteCount
			}
			return newer(qs[i], qs[j])
		})
	default:
		sort.SliceStable(qs, func(i, j int) bool { return newer(qs[i], qs[j]) })
	}
}
