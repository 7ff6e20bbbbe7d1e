package rooms

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qbox-app/backend/internal/models"
)

// ErrCodeTaken is returned when a generated join code collides with an existing room.
var ErrCodeTaken = errors.New("room code already in use")

// Repository handles room persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rooms repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roomColumns = `id::text, code, name, questions_visible, closed, created_by, created_at, closed_at, peak_audience`

func scanRoom(row pgx.Row) (*models.Room, error) {
	var r models.Room
	if err := row.Scan(&r.ID, &r.Code, &r.Name, &r.QuestionsVisible, &r.Closed, &r.CreatedBy, &r.CreatedAt, &r.ClosedAt, &r.PeakAudience); err != nil {
		return nil, err
	}
	return &r, nil
}

// Create inserts a room. r.Code must already be set.
func (r *Repository) Create(ctx context.Context, room *models.Room) error {
	const query = `INSERT INTO rooms (id, code, name, questions_visible, created_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id::text, created_at`
	err := r.pool.QueryRow(ctx, query, room.Code, room.Name, room.QuestionsVisible, room.CreatedBy).
		Scan(&room.ID, &room.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrCodeTaken
	}
	return err
}

// GetByID returns a room by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Room, error) {
	return scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1::uuid`, id))
}

// GetByCode returns a room by its join code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	return scanRoom(r.pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code))
}

// ListByCreator returns a lecturer's rooms, newest first.
func (r *Repository) ListByCreator(ctx context.Context, createdBy string) ([]models.Room, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roomColumns+` FROM rooms WHERE created_by = $1 ORDER BY created_at DESC`, createdBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *room)
	}
	return list, rows.Err()
}

// ToggleVisibility flips questions_visible and returns the new value.
func (r *Repository) ToggleVisibility(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE rooms SET questions_visible = NOT questions_visible WHERE id = $1::uuid RETURNING questions_visible`
	var visible bool
	err := r.pool.QueryRow(ctx, query, id).Scan(&visible)
	return visible, err
}

// Close marks the room closed and returns when. Closing an already closed room keeps the first timestamp.
func (r *Repository) Close(ctx context.Context, id string) (time.Time, error) {
	const query = `UPDATE rooms SET closed = TRUE, closed_at = COALESCE(closed_at, NOW()) WHERE id = $1::uuid RETURNING closed_at`
	var closedAt time.Time
	err := r.pool.QueryRow(ctx, query, id).Scan(&closedAt)
	return closedAt, err
}

// RaisePeak records count as the room's peak audience when it beats the stored value.
func (r *Repository) RaisePeak(ctx context.Context, id string, count int) error {
	const query = `UPDATE rooms SET peak_audience = GREATEST(peak_audience, $2) WHERE id = $1::uuid`
	_, err := r.pool.Exec(ctx, query, id, count)
	return err
}
