package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypePing        = "ping"
	TypePong        = "pong"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeError       = "error"
	TypeNotify      = "notification"
	TypeUpdate      = "update"

	ChannelPrefix = "channel:"
)

// Message is the wire envelope in both directions.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	ID        string          `json:"id"`
}

// ChannelPayload is the body of subscribe and unsubscribe messages.
type ChannelPayload struct {
	Channel string `json:"channel"`
}

func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}
	if payload == nil {
		return msg, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		msg.Payload = raw
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Payload = data
	return msg, nil
}

func ChannelType(channel string) string {
	return ChannelPrefix + channel
}

// Decode unmarshals the payload into dest.
func (m Message) Decode(dest any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, dest)
}
