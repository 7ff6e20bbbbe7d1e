package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/pkg/response"
)

// DefaultTimeout bounds a single REST call.
const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx reply from the server, carrying the envelope's error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client talks to the QBox REST API. It implements feed.QuestionService.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ feed.QuestionService = (*Client)(nil)

// New creates a REST client. token is the lecturer bearer token and may be empty for students.
func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// IsModerator reports whether the client carries a lecturer token.
func (c *Client) IsModerator() bool { return c.token != "" }

// JoinRoom resolves a join code to a room.
func (c *Client) JoinRoom(ctx context.Context, code string) (models.Room, error) {
	var room models.Room
	err := c.do(ctx, http.MethodPost, "/rooms/join", map[string]string{"code": code}, &room)
	return room, err
}

// GetRoom loads a room by id.
func (c *Client) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(roomID), nil, &room)
	return room, err
}

// FetchAll lists a room's questions.
func (c *Client) FetchAll(ctx context.Context, roomID string, q feed.FetchQuery) ([]models.Question, error) {
	v := url.Values{}
	if q.ViewerTag != "" {
		v.Set("tag", q.ViewerTag)
	}
	if q.IncludeRejected {
		v.Set("include_rejected", strconv.FormatBool(true))
	}
	path := "/rooms/" + url.PathEscape(roomID) + "/questions"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var body struct {
		Questions []models.Question `json:"questions"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Questions, nil
}

// Create submits a new question.
func (c *Client) Create(ctx context.Context, roomID, text, ownerTag string) (models.Question, error) {
	var q models.Question
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(roomID)+"/questions",
		map[string]string{"text": text, "owner_tag": ownerTag}, &q)
	return q, err
}

// Upvote records the viewer's upvote and returns the server's count.
func (c *Client) Upvote(ctx context.Context, id, viewerTag string) (int, error) {
	var body struct {
		UpvoteCount int `json:"upvote_count"`
	}
	if err := c.do(ctx, http.MethodPost, questionPath(id, "upvote"), map[string]string{"owner_tag": viewerTag}, &body); err != nil {
		return 0, err
	}
	return body.UpvoteCount, nil
}

// Report flags a question.
func (c *Client) Report(ctx context.Context, id, viewerTag, reason string) error {
	return c.do(ctx, http.MethodPost, questionPath(id, "report"), map[string]string{"owner_tag": viewerTag, "reason": reason}, nil)
}

// MarkAnswered marks a question answered, optionally with answer text.
func (c *Client) MarkAnswered(ctx context.Context, id string, answerText *string) error {
	return c.do(ctx, http.MethodPatch, questionPath(id, "answer"), map[string]*string{"answer_text": answerText}, nil)
}

// SoftDelete moves a question to rejected.
func (c *Client) SoftDelete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, questionPath(id, ""), nil, nil)
}

// Restore moves a rejected question back to pending.
func (c *Client) Restore(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, questionPath(id, "restore"), nil, nil)
}

// PermanentDelete removes a question for good.
func (c *Client) PermanentDelete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, questionPath(id, "permanent"), nil, nil)
}

func questionPath(id, action string) string {
	p := "/questions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// do sends one JSON request and decodes the envelope's data into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	env, err := response.Decode(raw)
	if err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.logger.Debug("api error", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("error", env.Error))
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
