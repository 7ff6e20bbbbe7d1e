package models

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"time"
)

// RoomCodeLength is the length of the join code shown to students.
const RoomCodeLength = 6

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var roomCodeRe = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// Visibility is the room-level policy controlling whether students see each other's questions.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityPrivate Visibility = "private"
)

// Room is a scoped Q&A session.
type Room struct {
	ID               string     `json:"id"`
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	QuestionsVisible bool       `json:"questions_visible"`
	Closed           bool       `json:"closed"`
	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	PeakAudience     int        `json:"peak_audience"`
}

// Visibility maps the stored flag onto the policy consumed by projections.
func (r Room) Visibility() Visibility {
	if r.QuestionsVisible {
		return VisibilityVisible
	}
	return VisibilityPrivate
}

// IsValidRoomCode reports whether code has the join-code format.
func IsValidRoomCode(code string) bool {
	return roomCodeRe.MatchString(code)
}

// NewRoomCode generates a random join code.
func NewRoomCode() (string, error) {
	b := make([]byte, RoomCodeLength)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}
