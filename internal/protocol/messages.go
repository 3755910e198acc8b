package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeGenerate MessageType = "generate"
	TypeReply    MessageType = "reply"
	TypeError    MessageType = "error"
)

var (
	ErrUnsupportedType = errors.New("unsupported message type")
	ErrMissingText     = errors.New("missing text")
)

// Generate is a client frame. Type may be omitted.
type Generate struct {
	Type MessageType `json:"type,omitempty"`
	Text *string     `json:"text"`
}

// Frame is a server frame: a reply, or an error with a stable code.
type Frame struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text,omitempty"`
	AudioURL string      `json:"audio_url,omitempty"`
	Code     string      `json:"code,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

func ReplyFrame(text, audioURL string) Frame {
	return Frame{Type: TypeReply, Text: text, AudioURL: audioURL}
}

func ErrorFrame(code, detail string) Frame {
	return Frame{Type: TypeError, Code: code, Detail: detail}
}

// ParseGenerate validates a client frame and returns its text. JSON errors
// are wrapped as-is; a nil or blank text yields ErrMissingText.
func ParseGenerate(raw []byte) (string, error) {
	var msg Generate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", fmt.Errorf("invalid frame: %w", err)
	}
	if msg.Type != "" && msg.Type != TypeGenerate {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, msg.Type)
	}
	if msg.Text == nil || strings.TrimSpace(*msg.Text) == "" {
		return "", ErrMissingText
	}
	return *msg.Text, nil
}
