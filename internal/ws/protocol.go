package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cktan21/spm-relay/internal/event"
)

type MessageType string

const (
	MsgRegisterUser MessageType = "register_user"
	MsgNotification MessageType = "notification"
	MsgError        MessageType = "error"
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// Envelope is a received frame with its payload left undecoded.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var ErrBadFrame = errors.New("malformed frame")

func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrBadFrame)
	}
	return env, nil
}

// RegisterPayload returns the user id carried by a register_user frame.
func (e Envelope) RegisterPayload() (string, error) {
	var userID string
	if err := json.Unmarshal(e.Payload, &userID); err != nil {
		return "", fmt.Errorf("%w: register_user payload must be a string", ErrBadFrame)
	}
	return userID, nil
}

// NotificationPayload decodes a notification frame, accepting both the
// eventType and event_type spellings.
func (e Envelope) NotificationPayload() (event.Notification, error) {
	var n event.Notification
	if err := json.Unmarshal(e.Payload, &n); err != nil {
		return event.Notification{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return n, nil
}

func EncodeNotification(n event.Notification) ([]byte, error) {
	return json.Marshal(WSMessage{Type: MsgNotification, Payload: n})
}

func EncodeRegister(userID string) ([]byte, error) {
	return json.Marshal(WSMessage{Type: MsgRegisterUser, Payload: userID})
}

func EncodeError(msg string) []byte {
	data, _ := json.Marshal(WSMessage{Type: MsgError, Payload: msg})
	return data
}
