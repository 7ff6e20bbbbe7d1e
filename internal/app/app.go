// Package app wires the terminal feed client: config, REST client, event
// channel, synchronizer and the Bubble Tea UI.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbox-app/backend/config"
	"github.com/qbox-app/backend/internal/client"
	"github.com/qbox-app/backend/internal/feed"
	"github.com/qbox-app/backend/internal/models"
	"github.com/qbox-app/backend/internal/tui"
)

// Options configure the feed client.
type Options struct {
	ConfigPath string
	RoomCode   string // overrides room_code from the config file
	LogPath    string // empty discards logs; the terminal belongs to the UI
}

// Run joins the room and blocks in the UI until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.LoadClient(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load client config: %w", err)
	}
	code, err := roomCode(opts.RoomCode, cfg.RoomCode)
	if err != nil {
		return err
	}

	logger, err := newLogger(opts.LogPath)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Sync()

	tag := cfg.StudentTag
	if tag == "" {
		tag = models.NewStudentTag()
	}

	api := client.New(cfg.ServerURL, cfg.LecturerToken, logger)
	room, err := api.JoinRoom(ctx, code)
	if err != nil {
		return fmt.Errorf("join room %s: %w", code, err)
	}
	moderator := api.IsModerator()
	logger.Info("joined room",
		zap.String("room_id", room.ID),
		zap.String("code", room.Code),
		zap.String("tag", tag),
		zap.Bool("moderator", moderator))

	changes := make(chan struct{}, 1)
	events := client.NewEvents(cfg.ServerURL, tag, logger)
	events.SetToken(cfg.LecturerToken)
	var syncer *feed.Synchronizer
	syncer = feed.New(room.ID, api, events, feed.Options{
		Logger:     logger,
		Fetch:      feed.FetchQuery{ViewerTag: tag, IncludeRejected: moderator},
		Visibility: room.Visibility(),
		OnChange:   func() { notify(changes) },
		// A private room only served this student's own questions.
		OnVisibility: func(v models.Visibility) {
			if v != models.VisibilityVisible {
				return
			}
			go func() {
				if err := syncer.Refresh(ctx); err != nil {
					logger.Warn("refresh after visibility change failed", zap.Error(err))
				}
			}()
		},
	})
	// Events missed while the socket was down are recovered by reloading the room and its questions.
	events.OnReconnect(func() {
		if err := resync(ctx, api, syncer, room.ID); err != nil {
			logger.Warn("resync after reconnect failed", zap.Error(err))
		}
	})

	if err := syncer.Start(ctx); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}
	defer syncer.Close()

	model := tui.New(tui.Options{
		Context:   ctx,
		Feed:      syncer,
		Room:      room,
		ViewerTag: tag,
		Moderator: moderator,
		Sort:      feed.SortMode(cfg.Sort),
		Changes:   changes,
	})
	if _, err := tea.NewProgram(model, tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

type roomSource interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
}

type feedState interface {
	Apply(e feed.Event)
	Refresh(ctx context.Context) error
}

// resync restores the room policy, a close and the questions after a reconnect.
// The questions are refreshed even when the room could not be reloaded.
func resync(ctx context.Context, rooms roomSource, state feedState, roomID string) error {
	var roomErr error
	room, err := rooms.GetRoom(ctx, roomID)
	if err != nil {
		roomErr = fmt.Errorf("reload room: %w", err)
	} else {
		state.Apply(feed.VisibilityEvent(room.ID, room.Visibility()))
		if room.Closed {
			state.Apply(feed.RoomClosedEvent(room.ID))
		}
	}
	if err := state.Refresh(ctx); err != nil {
		return errors.Join(roomErr, fmt.Errorf("refresh questions: %w", err))
	}
	return roomErr
}

// roomCode picks the flag over the config value and validates the result.
func roomCode(flagValue, configValue string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(flagValue))
	if code == "" {
		code = configValue
	}
	if code == "" {
		return "", errors.New("no room code: pass -room or set room_code in the config file")
	}
	if !models.IsValidRoomCode(code) {
		return "", fmt.Errorf("room code %q must be 6 letters or digits", code)
	}
	return code, nil
}

// notify coalesces change signals; the UI re-reads the whole projection anyway.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func newLogger(path string) (*zap.Logger, error) {
	if strings.TrimSpace(path) == "" {
		return zap.NewNop(), nil
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	config.OutputPaths = []string{path}
	config.ErrorOutputPaths = []string{path}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}
