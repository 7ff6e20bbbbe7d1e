package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/queue"
	"github.com/qbox-app/backend/pkg/storage"
)

// RoomReader loads the room being archived.
type RoomReader interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
}

// QuestionLister loads every question of a room, rejected ones included.
type QuestionLister interface {
	ListByRoom(ctx context.Context, roomID string, includeRejected bool) ([]models.Question, error)
}

// Uploader stores a transcript object and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// JobQueue is the slice of the Redis queue the worker loop uses.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Transcript is the archived record of a closed room.
type Transcript struct {
	Room       models.Room       `json:"room"`
	ClosedAt   time.Time         `json:"closed_at"`
	Summary    feed.Summary      `json:"summary"`
	Questions  []models.Question `json:"questions"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// RoomArchiver processes room archive jobs: load room and questions, upload a JSON transcript to S3.
type RoomArchiver struct {
	rooms     RoomReader
	questions QuestionLister
	uploader  Uploader
	queue     JobQueue
	backoff   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewRoomArchiver creates a room archive processor.
func NewRoomArchiver(rooms RoomReader, questions QuestionLister, uploader Uploader, q JobQueue, logger *zap.Logger) *RoomArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomArchiver{
		rooms:     rooms,
		questions: questions,
		uploader:  uploader,
		queue:     q,
		backoff:   queue.RetryBackoff,
		now:       time.Now,
		logger:    logger,
	}
}

// Process executes one room archive job.
func (p *RoomArchiver) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRoomArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RoomArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	room, err := p.rooms.GetByID(ctx, payload.RoomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Room deleted since the job was queued; nothing left to archive.
			p.logger.Warn("archive skipped, room gone", zap.String("room_id", payload.RoomID))
			return nil
		}
		return fmt.Errorf("load room: %w", err)
	}
	list, err := p.questions.ListByRoom(ctx, room.ID, true)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	body, err := json.Marshal(Transcript{
		Room:       *room,
		ClosedAt:   payload.ClosedAt,
		Summary:    feed.Summarize(list),
		Questions:  list,
		ArchivedAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	key := storage.ArchiveKey(room.ID, payload.ClosedAt)
	url, err := p.uploader.Upload(ctx, key, storage.ContentTypeJSON, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("room archived", zap.String("room_id", room.ID), zap.String("s3_key", key), zap.String("url", url), zap.Int("questions", len(list)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *RoomArchiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *RoomArchiver) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
