package questions

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/response"
	"github.com/qbox-app/backend/pkg/validation"
)

// Store is the question persistence the handler needs.
type Store interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id string) (*models.Question, error)
	ListByRoom(ctx context.Context, roomID string, includeRejected bool) ([]models.Question, error)
	ListReported(ctx context.Context, roomID string) ([]models.ReportedQuestion, error)
	Upvote(ctx context.Context, id, ownerTag string) (int, error)
	Report(ctx context.Context, id, ownerTag, reason string) (bool, error)
	MarkAnswered(ctx context.Context, id string, answerText *string) error
	SetStatus(ctx context.Context, id string, status models.Status) error
	Delete(ctx context.Context, id string) error
}

// RoomReader resolves the room a question belongs to.
type RoomReader interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
}

// Publisher fans a room event out to the subscribers of the room. PublishToOwner
// reaches only the clients joined with ownerTag and the room's moderators.
type Publisher interface {
	PublishToRoom(roomID string, event string, payload interface{})
	PublishToOwner(roomID, ownerTag string, event string, payload interface{})
}

// CreateRequest is the body for POST /rooms/:id/questions.
type CreateRequest struct {
	Text     string `json:"text" binding:"required"`
	OwnerTag string `json:"owner_tag" binding:"required,notblank"`
}

// TagRequest is the body for POST /questions/:id/upvote.
type TagRequest struct {
	OwnerTag string `json:"owner_tag" binding:"required,notblank"`
}

// ReportRequest is the body for POST /questions/:id/report.
type ReportRequest struct {
	OwnerTag string `json:"owner_tag" binding:"required,notblank"`
	Reason   string `json:"reason"`
}

// AnswerRequest is the optional body for PATCH /questions/:id/answer.
type AnswerRequest struct {
	AnswerText *string `json:"answer_text"`
}

// Handler handles question HTTP routes and publishes the matching room events.
type Handler struct {
	repo   Store
	rooms  RoomReader
	pub    Publisher
	logger *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(repo Store, rooms RoomReader, pub Publisher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, rooms: rooms, pub: pub, logger: logger}
}

// ListByRoom handles GET /rooms/:id/questions?tag=&include_rejected=.
// Students of a private room only get their own questions back.
func (h *Handler) ListByRoom(c *gin.Context) {
	room, ok := h.room(c, c.Param("id"))
	if !ok {
		return
	}
	moderator := isModerator(c, room)
	includeRejected, _ := strconv.ParseBool(c.Query("include_rejected"))

	list, err := h.repo.ListByRoom(c.Request.Context(), room.ID, includeRejected && moderator)
	if err != nil {
		h.logger.Error("list questions failed", zap.String("room_id", room.ID), zap.Error(err))
		response.Internal(c, "failed to list questions")
		return
	}
	if !moderator && room.Visibility() == models.VisibilityPrivate {
		list = feed.Project(list, feed.ViewOptions{
			Visibility: models.VisibilityPrivate,
			ViewerTag:  c.Query("tag"),
			Filter:     feed.FilterMine,
		})
	}
	response.OK(c, gin.H{"questions": list})
}

// Create handles POST /rooms/:id/questions (student asks a question).
func (h *Handler) Create(c *gin.Context) {
	room, ok := h.room(c, c.Param("id"))
	if !ok {
		return
	}
	if room.Closed {
		response.Conflict(c, "room is closed")
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+validation.Message(err))
		return
	}
	if err := models.ValidateQuestionText(req.Text); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	q := &models.Question{
		RoomID:   room.ID,
		Text:     strings.TrimSpace(req.Text),
		OwnerTag: strings.TrimSpace(req.OwnerTag),
	}
	if err := h.repo.Create(c.Request.Context(), q); err != nil {
		h.logger.Error("create question failed", zap.String("room_id", room.ID), zap.Error(err))
		response.Internal(c, "failed to create question")
		return
	}

	h.publishContent(room, q.OwnerTag, feed.CreatedEvent(*q))
	response.Created(c, q)
}

// Upvote handles POST /questions/:id/upvote (one per tag).
func (h *Handler) Upvote(c *gin.Context) {
	q, ok := h.question(c)
	if !ok {
		return
	}
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+validation.Message(err))
		return
	}

	count, err := h.repo.Upvote(c.Request.Context(), q.ID, strings.TrimSpace(req.OwnerTag))
	if err != nil {
		h.logger.Error("upvote failed", zap.String("question_id", q.ID), zap.Error(err))
		response.Internal(c, "failed to upvote question")
		return
	}

	h.publish(q.RoomID, feed.UpvotedEvent(q.ID, count))
	response.OK(c, gin.H{"id": q.ID, "upvote_count": count})
}

// Report handles POST /questions/:id/report (one per tag).
func (h *Handler) Report(c *gin.Context) {
	q, ok := h.question(c)
	if !ok {
		return
	}
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+validation.Message(err))
		return
	}

	added, err := h.repo.Report(c.Request.Context(), q.ID, strings.TrimSpace(req.OwnerTag), strings.TrimSpace(req.Reason))
	if err != nil {
		h.logger.Error("report failed", zap.String("question_id", q.ID), zap.Error(err))
		response.Internal(c, "failed to report question")
		return
	}
	if added {
		h.publish(q.RoomID, feed.StatusEvent(feed.EventReported, q.ID))
	}
	response.OK(c, gin.H{"id": q.ID, "reported": true})
}

// Answer handles PATCH /questions/:id/answer. The body is optional.
func (h *Handler) Answer(c *gin.Context) {
	q, room, ok := h.ownedQuestion(c)
	if !ok {
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "invalid request: "+validation.Message(err))
		return
	}
	answer := req.AnswerText
	if answer != nil {
		trimmed := strings.TrimSpace(*answer)
		answer = &trimmed
		if trimmed == "" {
			answer = nil
		}
	}

	if err := h.repo.MarkAnswered(c.Request.Context(), q.ID, answer); err != nil {
		h.fail(c, q.ID, "failed to mark question answered", err)
		return
	}

	h.publishContent(room, q.OwnerTag, feed.AnsweredEvent(q.ID, answer))
	response.OK(c, gin.H{"id": q.ID, "status": models.StatusAnswered, "answer_text": answer})
}

// SoftDelete handles DELETE /questions/:id (moves the question to rejected).
func (h *Handler) SoftDelete(c *gin.Context) {
	h.setStatus(c, models.StatusRejected, feed.EventRejected)
}

// Restore handles PATCH /questions/:id/restore (rejected back to pending).
func (h *Handler) Restore(c *gin.Context) {
	h.setStatus(c, models.StatusPending, feed.EventRestored)
}

// PermanentDelete handles DELETE /questions/:id/permanent.
func (h *Handler) PermanentDelete(c *gin.Context) {
	q, _, ok := h.ownedQuestion(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), q.ID); err != nil {
		h.fail(c, q.ID, "failed to delete question", err)
		return
	}

	h.publish(q.RoomID, feed.StatusEvent(feed.EventPermanentlyDeleted, q.ID))
	response.OK(c, gin.H{"id": q.ID, "deleted": true})
}

// ListReported handles GET /rooms/:id/reports (room owner only).
func (h *Handler) ListReported(c *gin.Context) {
	room, ok := h.room(c, c.Param("id"))
	if !ok {
		return
	}
	if !isModerator(c, room) {
		response.Forbidden(c, "not the room owner")
		return
	}
	list, err := h.repo.ListReported(c.Request.Context(), room.ID)
	if err != nil {
		h.logger.Error("list reported failed", zap.String("room_id", room.ID), zap.Error(err))
		response.Internal(c, "failed to list reported questions")
		return
	}
	response.OK(c, gin.H{"questions": list})
}

func (h *Handler) setStatus(c *gin.Context, status models.Status, kind feed.EventKind) {
	q, _, ok := h.ownedQuestion(c)
	if !ok {
		return
	}
	if err := h.repo.SetStatus(c.Request.Context(), q.ID, status); err != nil {
		h.fail(c, q.ID, "failed to update question", err)
		return
	}

	h.publish(q.RoomID, feed.StatusEvent(kind, q.ID))
	response.OK(c, gin.H{"id": q.ID, "status": status})
}

func (h *Handler) publish(roomID string, e feed.Event) {
	h.pub.PublishToRoom(roomID, string(e.Kind), e.Payload())
}

// publishContent sends an event that carries question text. In a private room
// only the question's owner and the moderators may see it.
func (h *Handler) publishContent(room *models.Room, ownerTag string, e feed.Event) {
	if room.QuestionsVisible {
		h.publish(room.ID, e)
		return
	}
	h.pub.PublishToOwner(room.ID, ownerTag, string(e.Kind), e.Payload())
}

func (h *Handler) fail(c *gin.Context, questionID, msg string, err error) {
	if IsNotFound(err) {
		response.NotFound(c, "question not found")
		return
	}
	h.logger.Error(msg, zap.String("question_id", questionID), zap.Error(err))
	response.Internal(c, msg)
}

func (h *Handler) room(c *gin.Context, id string) (*models.Room, bool) {
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(c, "invalid room id")
		return nil, false
	}
	room, err := h.rooms.GetByID(c.Request.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			response.NotFound(c, "room not found")
		} else {
			h.logger.Error("get room failed", zap.String("room_id", id), zap.Error(err))
			response.Internal(c, "failed to load room")
		}
		return nil, false
	}
	return room, true
}

func (h *Handler) question(c *gin.Context) (*models.Question, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(c, "invalid question id")
		return nil, false
	}
	q, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			response.NotFound(c, "question not found")
		} else {
			h.logger.Error("get question failed", zap.String("question_id", id), zap.Error(err))
			response.Internal(c, "failed to load question")
		}
		return nil, false
	}
	return q, true
}

// ownedQuestion loads the question and checks the caller owns its room.
func (h *Handler) ownedQuestion(c *gin.Context) (*models.Question, *models.Room, bool) {
	q, ok := h.question(c)
	if !ok {
		return nil, nil, false
	}
	room, ok := h.room(c, q.RoomID)
	if !ok {
		return nil, nil, false
	}
	if !isModerator(c, room) {
		response.Forbidden(c, "not the room owner")
		return nil, nil, false
	}
	return q, room, true
}

func isModerator(c *gin.Context, room *models.Room) bool {
	return middleware.IsLecturer(c) && room.CreatedBy != "" && room.CreatedBy == middleware.UserID(c)
}
