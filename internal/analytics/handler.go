package analytics

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/middleware"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/response"
)

// topQuestions is how many of the most upvoted questions the summary carries.
const topQuestions = 5

// RoomReader loads a room.
type RoomReader interface {
	GetByID(ctx context.Context, id string) (*models.Room, error)
}

// QuestionLister lists a room's questions.
type QuestionLister interface {
	ListByRoom(ctx context.Context, roomID string, includeRejected bool) ([]models.Question, error)
}

// AudienceCounter reports how many clients are connected to a room on this instance.
type AudienceCounter interface {
	AudienceCount(roomID string) int
}

// Handler handles GET /rooms/:id/analytics.
type Handler struct {
	rooms     RoomReader
	questions QuestionLister
	audience  AudienceCounter
	logger    *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(rooms RoomReader, questions QuestionLister, audience AudienceCounter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rooms: rooms, questions: questions, audience: audience, logger: logger}
}

// SummaryResponse is the JSON shape for the lecturer's analytics screen.
type SummaryResponse struct {
	feed.Summary
	AnsweredPercent float64           `json:"answered_percent"`
	LiveAudience    int               `json:"live_audience"`
	PeakAudience    int               `json:"peak_audience"`
	TopQuestions    []models.Question `json:"top_questions"`
}

// GetByRoom handles GET /rooms/:id/analytics. Only the room owner may read it.
func (h *Handler) GetByRoom(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	ctx := c.Request.Context()

	room, err := h.rooms.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "room not found")
			return
		}
		response.Internal(c, "failed to load room")
		return
	}
	if room.CreatedBy != middleware.UserID(c) {
		response.Forbidden(c, "not the room owner")
		return
	}

	list, err := h.questions.ListByRoom(ctx, id, true)
	if err != nil {
		h.logger.Error("analytics list questions failed", zap.String("room_id", id), zap.Error(err))
		response.Internal(c, "failed to load questions")
		return
	}
	resp := Summarize(list, h.audience.AudienceCount(id))
	resp.PeakAudience = max(room.PeakAudience, resp.LiveAudience)
	response.OK(c, resp)
}

// Summarize builds the analytics response from a room's full question list.
func Summarize(list []models.Question, audience int) SummaryResponse {
	s := feed.Summarize(list)
	resp := SummaryResponse{Summary: s, LiveAudience: audience}
	if live := s.Total - s.Rejected; live > 0 {
		resp.AnsweredPercent = float64(s.Answered) * 100 / float64(live)
	}
	top := feed.Project(list, feed.ViewOptions{Filter: feed.FilterAll, Sort: feed.SortUpvotes})
	if len(top) > topQuestions {
		top = top[:topQuestions]
	}
	resp.TopQuestions = top
	return resp
}
