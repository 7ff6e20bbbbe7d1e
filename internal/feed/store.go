package feed

import (
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/models"
)

// Fields is a partial update for a question. Nil fields are left untouched.
type Fields struct {
	UpvoteCount *int
	Status      *models.Status
	AnswerText  *string
	Reported    *bool
}

// Store holds the local copy of one room's questions keyed by id.
// It is not safe for concurrent use; the Synchronizer serialises access.
type Store struct {
	records    map[string]*models.Question
	tombstones map[string]struct{}
	logger     *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records:    make(map[string]*models.Question),
		tombstones: make(map[string]struct{}),
		logger:     logger,
	}
}

// Upsert inserts q, or merges it into the existing record with the same id.
// The merge never moves a record backwards: status only advances from pending,
// upvotes take the larger count, reported stays set, and answer text and
// descriptive fields are only filled when absent. Permanently deleted ids are refused.
func (s *Store) Upsert(q models.Question) bool {
	if err := q.Validate(); err != nil {
		s.logger.Warn("upsert rejected", zap.String("question_id", q.ID), zap.Error(err))
		return false
	}
	if s.Deleted(q.ID) {
		s.logger.Debug("upsert for deleted question dropped", zap.String("question_id", q.ID))
		return false
	}
	cur, ok := s.records[q.ID]
	if !ok {
		c := q.Clone()
		s.records[q.ID] = &c
		return true
	}
	changed := false
	if cur.Status == models.StatusPending && q.Status != models.StatusPending {
		cur.Status = q.Status
		changed = true
	}
	if q.UpvoteCount > cur.UpvoteCount {
		cur.UpvoteCount = q.UpvoteCount
		changed = true
	}
	if q.Reported && !cur.Reported {
		cur.Reported = true
		changed = true
	}
	if q.ReportCount > cur.ReportCount {
		cur.ReportCount = q.ReportCount
		changed = true
	}
	if cur.AnswerText == nil && q.AnswerText != nil {
		a := *q.AnswerText
		cur.AnswerText = &a
		changed = true
	}
	if cur.Text == "" && q.Text != "" {
		cur.Text = q.Text
		changed = true
	}
	if cur.OwnerTag == "" && q.OwnerTag != "" {
		cur.OwnerTag = q.OwnerTag
		changed = true
	}
	if cur.RoomID == "" && q.RoomID != "" {
		cur.RoomID = q.RoomID
		changed = true
	}
	if cur.CreatedAt.IsZero() && !q.CreatedAt.IsZero() {
		cur.CreatedAt = q.CreatedAt
		changed = true
	}
	return changed
}

// Remove deletes the record and remembers the id so later events cannot resurrect it.
func (s *Store) Remove(id string) bool {
	s.tombstones[id] = struct{}{}
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// Patch applies a partial update to an existing record. Unknown and deleted ids
// are logged and reported as not applied. Upvote counts only ever increase.
func (s *Store) Patch(id string, f Fields) bool {
	cur, ok := s.records[id]
	if !ok {
		if s.Deleted(id) {
			s.logger.Debug("patch for deleted question dropped", zap.String("question_id", id))
		} else {
			s.logger.Debug("patch for unknown question", zap.String("question_id", id))
		}
		return false
	}
	changed := false
	if f.UpvoteCount != nil && *f.UpvoteCount > cur.UpvoteCount {
		cur.UpvoteCount = *f.UpvoteCount
		changed = true
	}
	if f.Status != nil && f.Status.Valid() && cur.Status != *f.Status {
		cur.Status = *f.Status
		changed = true
	}
	if f.AnswerText != nil && (cur.AnswerText == nil || *cur.AnswerText != *f.AnswerText) {
		a := *f.AnswerText
		cur.AnswerText = &a
		changed = true
	}
	if f.Reported != nil && cur.Reported != *f.Reported {
		cur.Reported = *f.Reported
		changed = true
	}
	return changed
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (models.Question, bool) {
	cur, ok := s.records[id]
	if !ok {
		return models.Question{}, false
	}
	return cur.Clone(), true
}

// Has reports whether id is currently held.
func (s *Store) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// Deleted reports whether id was permanently deleted.
func (s *Store) Deleted(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

// GetAll returns a snapshot of every record in no particular order.
func (s *Store) GetAll() []models.Question {
	out := make([]models.Question, 0, len(s.records))
	for _, q := range s.records {
		out = append(out, q.Clone())
	}
	return out
}

// Len returns the number of records held.
func (s *Store) Len() int { return len(s.records) }

// Replace swaps the whole content for qs, skipping invalid and deleted records.
func (s *Store) Replace(qs []models.Question) {
	s.records = make(map[string]*models.Question, len(qs))
	for _, q := range qs {
		s.Upsert(q)
	}
}

// put stores q verbatim and clears any tombstone. Used to roll back optimistic changes.
func (s *Store) put(q models.Question) {
	delete(s.tombstones, q.ID)
	c := q.Clone()
	s.records[q.ID] = &c
}

// discard drops a record without leaving a tombstone.
func (s *Store) discard(id string) {
	delete(s.records, id)
}

// mutate runs fn against the live record, bypassing merge rules. Used for rollback.
func (s *Store) mutate(id string, fn func(q *models.Question)) bool {
	cur, ok := s.records[id]
	if !ok {
		return false
	}
	fn(cur)
	return true
}
