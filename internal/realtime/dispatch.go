package realtime

import (
	"strings"

	"go.uber.org/zap"
)

// Kind groups message types by how they are routed.
type Kind int

const (
	KindUnknown Kind = iota
	KindPong
	KindPing
	KindError
	KindNotification
	KindUpdate
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindPong:
		return "pong"
	case KindPing:
		return "ping"
	case KindError:
		return "error"
	case KindNotification:
		return "notification"
	case KindUpdate:
		return "update"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

func Classify(msgType string) Kind {
	switch msgType {
	case TypePong:
		return KindPong
	case TypePing:
		return KindPing
	case TypeError:
		return KindError
	case TypeNotify:
		return KindNotification
	case TypeUpdate:
		return KindUpdate
	}
	if strings.HasPrefix(msgType, ChannelPrefix) && len(msgType) > len(ChannelPrefix) {
		return KindChannel
	}
	return KindUnknown
}

type MessageHandler interface {
	Handle(msg Message)
}

type HandlerFunc func(msg Message)

func (f HandlerFunc) Handle(msg Message) {
	f(msg)
}

// dispatch runs on the read goroutine, so handlers see messages in arrival
// order and must not block for long.
func (c *Connection) dispatch(msg Message) {
	kind := Classify(msg.Type)
	switch kind {
	case KindPong:
		c.resolvePing(msg.ID)
		c.route(kind, msg)
	case KindPing:
		reply := Message{Type: TypePong, ID: msg.ID}
		if err := c.write(reply); err != nil {
			c.logger.Debug("failed to answer server ping", zap.Error(err))
		}
	case KindError, KindNotification, KindUpdate:
		c.route(kind, msg)
	case KindChannel:
		name := strings.TrimPrefix(msg.Type, ChannelPrefix)
		if !c.channels.deliver(name, msg) {
			c.fallbackHandle(msg)
		}
	case KindUnknown:
		c.fallbackHandle(msg)
	}
}

func (c *Connection) route(kind Kind, msg Message) {
	if h, ok := c.handlers[kind]; ok {
		h.Handle(msg)
		return
	}
	if kind == KindPong {
		return
	}
	c.fallbackHandle(msg)
}

func (c *Connection) fallbackHandle(msg Message) {
	if c.fallback != nil {
		c.fallback.Handle(msg)
		return
	}
	c.logger.Debug("unhandled realtime message", zap.String("type", msg.Type))
}
