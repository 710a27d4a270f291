package broadcast

import (
	"context"
	"errors"
	"strconv"
)

// DefaultTopic is the topic name the verification surface and the
// coordinator agree on when none is configured.
const DefaultTopic = "reauth"

// MessageType identifies a broadcast event.
type MessageType string

const (
	MessageReauthSuccess   MessageType = "reauth-success"
	MessageReauthCancelled MessageType = "reauth-cancelled"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageReauthSuccess || t == MessageReauthCancelled
}

// Message is one ephemeral broadcast. It carries no credential: receivers
// treat it as a hint to retry, and the server re-checks everything.
type Message struct {
	Type MessageType `json:"type"`
}

var (
	// ErrClosed is returned by operations on a closed topic or hub.
	ErrClosed = errors.New("broadcast: closed")
	// ErrInvalidMessage is returned when publishing an unknown message type.
	ErrInvalidMessage = errors.New("broadcast: invalid message")
)

// Topic is a named fire-and-forget channel. Delivery is FIFO per subscriber
// and best-effort: a message published with no subscribers is lost.
type Topic interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription receives messages until Close is called or the context passed
// to Subscribe is done, after which C is closed.
type Subscription interface {
	C() <-chan Message
	Close() error
}

// Topics resolves a topic name. *Hub and RedisTopics implement it.
type Topics interface {
	Topic(name string) Topic
}

// UserTopic scopes name to one user so every context of that user shares the
// topic and no other user can observe it.
func UserTopic(userID int64, name string) string {
	if name == "" {
		name = DefaultTopic
	}
	return "u:" + strconv.FormatInt(userID, 10) + ":" + name
}
