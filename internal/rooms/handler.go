package rooms

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/queue"
	"github.com/qbox-app/backend/pkg/response"
	"github.com/qbox-app/backend/pkg/storage"
	"github.com/qbox-app/backend/pkg/validation"
)

// codeAttempts bounds retries when a generated join code collides.
const codeAttempts = 5

// Store is the room persistence the handler needs.
type Store interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id string) (*models.Room, error)
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	ListByCreator(ctx context.Context, createdBy string) ([]models.Room, error)
	ToggleVisibility(ctx context.Context, id string) (bool, error)
	Close(ctx context.Context, id string) (time.Time, error)
}

// Publisher fans a room event out to every subscriber of the room.
type Publisher interface {
	PublishToRoom(roomID string, event string, payload interface{})
}

// Archiver schedules the transcript upload for a closed room.
type Archiver interface {
	EnqueueRoomArchive(ctx context.Context, payload queue.RoomArchivePayload) error
}

// ArchiveLinker presigns downloads of archived room transcripts.
type ArchiveLinker interface {
	GeneratePresignedDownloadURL(ctx context.Context, key string) (string, error)
	PresignExpire() time.Duration
}

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	Name             string `json:"name" binding:"required,notblank"`
	QuestionsVisible *bool  `json:"questions_visible"`
}

// JoinRequest is the body for POST /rooms/join.
type JoinRequest struct {
	Code string `json:"code" binding:"required,roomcode"`
}

// Handler handles room HTTP routes.
type Handler struct {
	repo     Store
	pub      Publisher
	archiver Archiver
	archives ArchiveLinker
	logger   *zap.Logger
}

// NewHandler creates a rooms handler. archiver may be nil, in which case closed rooms are not archived.
func NewHandler(repo Store, pub Publisher, archiver Archiver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, pub: pub, archiver: archiver, logger: logger}
}

// SetArchiveLinker enables GET /rooms/:id/archive. Without it the route reports 503.
func (h *Handler) SetArchiveLinker(l ArchiveLinker) { h.archives = l }

// Create handles POST /rooms (lecturer).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+validation.Message(err))
		return
	}
	name := strings.TrimSpace(req.Name)
	room := &models.Room{
		Name:             name,
		QuestionsVisible: req.QuestionsVisible == nil || *req.QuestionsVisible,
		CreatedBy:        middleware.UserID(c),
	}

	for attempt := 0; ; attempt++ {
		code, err := models.NewRoomCode()
		if err != nil {
			response.Internal(c, "failed to generate room code")
			return
		}
		room.Code = code
		err = h.repo.Create(c.Request.Context(), room)
		if err == nil {
			break
		}
		if errors.Is(err, ErrCodeTaken) && attempt+1 < codeAttempts {
			continue
		}
		h.logger.Error("create room failed", zap.Error(err))
		response.Internal(c, "failed to create room")
		return
	}

	h.logger.Info("room created", zap.String("room_id", room.ID), zap.String("code", room.Code))
	response.Created(c, room)
}

// ListMine handles GET /rooms (lecturer's own rooms).
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.repo.ListByCreator(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("list rooms failed", zap.Error(err))
		response.Internal(c, "failed to list rooms")
		return
	}
	response.OK(c, gin.H{"rooms": list})
}

// Get handles GET /rooms/:id.
func (h *Handler) Get(c *gin.Context) {
	room, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, room)
}

// Join handles POST /rooms/join. Students resolve the 6-character code to a room.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+validation.Message(err))
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	room, err := h.repo.GetByCode(c.Request.Context(), code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "room not found")
			return
		}
		h.logger.Error("join room failed", zap.String("code", code), zap.Error(err))
		response.Internal(c, "failed to join room")
		return
	}
	if room.Closed {
		response.Conflict(c, "room is closed")
		return
	}
	response.OK(c, room)
}

// ToggleVisibility handles PATCH /rooms/:id/visibility (owner).
func (h *Handler) ToggleVisibility(c *gin.Context) {
	room, ok := h.owned(c)
	if !ok {
		return
	}
	visible, err := h.repo.ToggleVisibility(c.Request.Context(), room.ID)
	if err != nil {
		h.logger.Error("toggle visibility failed", zap.String("room_id", room.ID), zap.Error(err))
		response.Internal(c, "failed to update room")
		return
	}
	room.QuestionsVisible = visible

	e := feed.VisibilityEvent(room.ID, room.Visibility())
	h.pub.PublishToRoom(room.ID, string(e.Kind), e.Payload())
	response.OK(c, room)
}

// Close handles PATCH /rooms/:id/close (owner). The transcript is archived by the worker.
func (h *Handler) Close(c *gin.Context) {
	room, ok := h.owned(c)
	if !ok {
		return
	}
	wasClosed := room.Closed
	closedAt, err := h.repo.Close(c.Request.Context(), room.ID)
	if err != nil {
		h.logger.Error("close room failed", zap.String("room_id", room.ID), zap.Error(err))
		response.Internal(c, "failed to close room")
		return
	}
	room.Closed = true
	room.ClosedAt = &closedAt

	if !wasClosed {
		e := feed.RoomClosedEvent(room.ID)
		h.pub.PublishToRoom(room.ID, string(e.Kind), e.Payload())
		if h.archiver != nil {
			if err := h.archiver.EnqueueRoomArchive(c.Request.Context(), queue.RoomArchivePayload{RoomID: room.ID, ClosedAt: closedAt}); err != nil {
				h.logger.Warn("enqueue room archive failed", zap.String("room_id", room.ID), zap.Error(err))
			}
		}
	}
	response.OK(c, room)
}

// Archive handles GET /rooms/:id/archive (owner): a short-lived download link for the transcript
// the worker uploaded when the room was closed.
func (h *Handler) Archive(c *gin.Context) {
	room, ok := h.owned(c)
	if !ok {
		return
	}
	if !room.Closed || room.ClosedAt == nil {
		response.Conflict(c, "room is still open")
		return
	}
	if h.archives == nil {
		response.ServiceUnavailable(c, "archive storage not configured")
		return
	}
	key := storage.ArchiveKey(room.ID, *room.ClosedAt)
	url, err := h.archives.GeneratePresignedDownloadURL(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("presign archive failed", zap.String("room_id", room.ID), zap.String("key", key), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url, "key": key, "expires_in": int(h.archives.PresignExpire().Seconds())})
}

// Lookup returns the owner of an existing room. It backs the WebSocket room check.
func (h *Handler) Lookup(ctx context.Context, roomID string) (string, error) {
	room, err := h.repo.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}
	return room.CreatedBy, nil
}

func (h *Handler) load(c *gin.Context) (*models.Room, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(c, "invalid room id")
		return nil, false
	}
	room, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "room not found")
		} else {
			h.logger.Error("get room failed", zap.String("room_id", id), zap.Error(err))
			response.Internal(c, "failed to load room")
		}
		return nil, false
	}
	return room, true
}

func (h *Handler) owned(c *gin.Context) (*models.Room, bool) {
	room, ok := h.load(c)
	if !ok {
		return nil, false
	}
	if room.CreatedBy != middleware.UserID(c) {
		response.Forbidden(c, "not the room owner")
		return nil, false
	}
	return room, true
}
