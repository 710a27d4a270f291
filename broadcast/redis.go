package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTopic is a Topic over Redis PUBLISH/SUBSCRIBE on "<prefix>:bc:<name>".
// Redis pub/sub keeps nothing, which matches the broadcast contract.
type RedisTopic struct {
	client  redis.UniversalClient
	channel string
	buffer  int
}

// NewRedisTopic returns a topic bound to name.
func NewRedisTopic(client redis.UniversalClient, prefix, name string) *RedisTopic {
	if prefix == "" {
		prefix = "rx"
	}
	return &RedisTopic{
		client:  client,
		channel: prefix + ":bc:" + name,
		buffer:  defaultSubscriberBuffer,
	}
}

// Channel returns the Redis channel name.
func (t *RedisTopic) Channel() string { return t.channel }

func (t *RedisTopic) Publish(ctx context.Context, msg Message) error {
	if !msg.Type.Valid() {
		return ErrInvalidMessage
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("broadcast publish: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so a message
// published after Subscribe returns is delivered.
func (t *RedisTopic) Subscribe(ctx context.Context) (Subscription, error) {
	ps := t.client.Subscribe(ctx, t.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("broadcast subscribe: %w", err)
	}

	s := &redisSubscription{
		ps:   ps,
		ch:   make(chan Message, t.buffer),
		done: make(chan struct{}),
	}
	go s.pump(ctx)
	return s, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) C() <-chan Message { return s.ch }

func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.ch)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil || !msg.Type.Valid() {
				continue
			}
			select {
			case s.ch <- msg:
			case <-s.done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// RedisTopics resolves topic names to RedisTopic values sharing one client.
type RedisTopics struct {
	Client redis.UniversalClient
	Prefix string
}

func (r RedisTopics) Topic(name string) Topic {
	return NewRedisTopic(r.Client, r.Prefix, name)
}
