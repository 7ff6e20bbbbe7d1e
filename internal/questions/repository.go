package questions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qbox-app/backend/internal/models"
)

// Repository handles question persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `q.id::text, q.room_id::text, q.text, q.owner_tag, q.status, q.answer_text, q.upvote_count, q.created_at,
		(SELECT COUNT(*) FROM question_reports r WHERE r.question_id = q.id)`

func scanQuestion(row pgx.Row) (models.Question, error) {
	var q models.Question
	var status string
	err := row.Scan(&q.ID, &q.RoomID, &q.Text, &q.OwnerTag, &status, &q.AnswerText, &q.UpvoteCount, &q.CreatedAt, &q.ReportCount)
	if err != nil {
		return models.Question{}, err
	}
	q.Status = models.Status(status)
	q.Reported = q.ReportCount > 0
	return q, nil
}

// Create inserts a new pending question.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions (id, room_id, text, owner_tag, status)
		VALUES (gen_random_uuid(), $1::uuid, $2, $3, 'pending')
		RETURNING id::text, status, upvote_count, created_at`
	var status string
	if err := r.pool.QueryRow(ctx, query, q.RoomID, q.Text, q.OwnerTag).
		Scan(&q.ID, &status, &q.UpvoteCount, &q.CreatedAt); err != nil {
		return err
	}
	q.Status = models.Status(status)
	return nil
}

// GetByID returns a question by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Question, error) {
	query := `SELECT ` + selectColumns + ` FROM questions q WHERE q.id = $1::uuid`
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListByRoom returns a room's questions, newest first. Rejected questions are only included on request.
func (r *Repository) ListByRoom(ctx context.Context, roomID string, includeRejected bool) ([]models.Question, error) {
	query := `SELECT ` + selectColumns + ` FROM questions q
		WHERE q.room_id = $1::uuid AND ($2 OR q.status <> 'rejected')
		ORDER BY q.created_at DESC`
	rows, err := r.pool.Query(ctx, query, roomID, includeRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// ListReported returns questions with at least one report, most reported first.
func (r *Repository) ListReported(ctx context.Context, roomID string) ([]models.ReportedQuestion, error) {
	query := `SELECT ` + selectColumns + `,
			COALESCE(ARRAY(SELECT r.reason FROM question_reports r WHERE r.question_id = q.id AND r.reason <> '' ORDER BY r.created_at), '{}')
		FROM questions q
		WHERE q.room_id = $1::uuid AND EXISTS (SELECT 1 FROM question_reports r WHERE r.question_id = q.id)
		ORDER BY 9 DESC, q.created_at DESC`
	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.ReportedQuestion{}
	for rows.Next() {
		var rq models.ReportedQuestion
		var status string
		if err := rows.Scan(&rq.ID, &rq.RoomID, &rq.Text, &rq.OwnerTag, &status, &rq.AnswerText, &rq.UpvoteCount, &rq.CreatedAt, &rq.ReportCount, &rq.Reasons); err != nil {
			return nil, err
		}
		rq.Status = models.Status(status)
		rq.Reported = true
		list = append(list, rq)
	}
	return list, rows.Err()
}

// Upvote records one upvote per tag and returns the resulting count.
// A repeated upvote from the same tag leaves the count unchanged.
func (r *Repository) Upvote(ctx context.Context, id, ownerTag string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `INSERT INTO question_upvotes (question_id, owner_tag) VALUES ($1::uuid, $2)
		ON CONFLICT (question_id, owner_tag) DO NOTHING`, id, ownerTag)
	if err != nil {
		return 0, fmt.Errorf("insert upvote: %w", err)
	}
	var count int
	if tag.RowsAffected() > 0 {
		err = tx.QueryRow(ctx, `UPDATE questions SET upvote_count = upvote_count + 1 WHERE id = $1::uuid RETURNING upvote_count`, id).Scan(&count)
	} else {
		err = tx.QueryRow(ctx, `SELECT upvote_count FROM questions WHERE id = $1::uuid`, id).Scan(&count)
	}
	if err != nil {
		return 0, err
	}
	return count, tx.Commit(ctx)
}

// Report records one report per tag. It returns false when the tag had already reported the question.
func (r *Repository) Report(ctx context.Context, id, ownerTag, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `INSERT INTO question_reports (question_id, owner_tag, reason) VALUES ($1::uuid, $2, $3)
		ON CONFLICT (question_id, owner_tag) DO NOTHING`, id, ownerTag, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAnswered sets status to answered, keeping any previous answer text when none is given.
func (r *Repository) MarkAnswered(ctx context.Context, id string, answerText *string) error {
	const query = `UPDATE questions SET status = 'answered', answer_text = COALESCE($2, answer_text) WHERE id = $1::uuid`
	return r.exec(ctx, query, id, answerText)
}

// SetStatus moves a question between pending and rejected.
func (r *Repository) SetStatus(ctx context.Context, id string, status models.Status) error {
	const query = `UPDATE questions SET status = $2 WHERE id = $1::uuid`
	return r.exec(ctx, query, id, string(status))
}

// Delete removes a question and its upvotes and reports.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM questions WHERE id = $1::uuid`, id)
}

// exec runs a single-row statement, reporting pgx.ErrNoRows when nothing matched.
func (r *Repository) exec(ctx context.Context, query string, args ...interface{}) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IsNotFound reports whether err means the question does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
