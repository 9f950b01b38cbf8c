package conversation

import (
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrEmptyTurn is returned when a turn would carry neither text nor images.
var ErrEmptyTurn = errors.New("conversation: turn needs text or images")

// Image is one attached image, kept as raw bytes plus its MIME type.
type Image struct {
	MIME string
	Data []byte
}

// DataURL encodes the image as a self-describing base64 data reference for
// transports that inline image payloads.
func (i Image) DataURL() string {
	return "data:" + i.MIME + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Turn is one conversational exchange unit.
type Turn struct {
	ID        string
	Role      Role
	Text      string
	Images    []Image
	Timestamp int64 // epoch milliseconds
	// Error marks a synthetic apology turn so a transcript renderer can
	// flag it; it is never set on genuine upstream replies.
	Error bool
}

// NewTurn creates a turn, enforcing that text or images is present.
func NewTurn(role Role, text string, images []Image) (Turn, error) {
	if text == "" && len(images) == 0 {
		return Turn{}, ErrEmptyTurn
	}
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Images:    images,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}
