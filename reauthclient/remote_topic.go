package reauthclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/MrEthical07/goReauth/broadcast"
	"github.com/MrEthical07/goReauth/result"
)

// RemoteTopic is a broadcast.Topic over the server relay: POST to publish,
// a Server-Sent Events stream to subscribe. The server scopes the name to
// the signed-in user.
type RemoteTopic struct {
	client *Client
	name   string
	stream *http.Client
}

// Topic returns the relay topic name for this client's user.
func (c *Client) Topic(name string) *RemoteTopic {
	if name == "" {
		name = broadcast.DefaultTopic
	}
	return &RemoteTopic{
		client: c,
		name:   name,
		stream: &http.Client{Transport: c.http.Transport},
	}
}

func (t *RemoteTopic) path() string {
	return "/v1/broadcast/" + url.PathEscape(t.name)
}

func (t *RemoteTopic) Publish(ctx context.Context, msg broadcast.Message) error {
	if !msg.Type.Valid() {
		return broadcast.ErrInvalidMessage
	}
	return t.client.do(ctx, http.MethodPost, t.path(), "", msg, nil)
}

// Subscribe opens the stream and returns after the server confirms the
// subscription, so later publishes are not missed.
func (t *RemoteTopic) Subscribe(ctx context.Context) (broadcast.Subscription, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := t.client.newRequest(streamCtx, http.MethodGet, t.path(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("relay subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return nil, result.Decode(resp.StatusCode, buf.Bytes(), nil)
	}

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, ":") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("relay subscribe: unexpected stream start %q: %v", first, err)
	}

	s := &remoteSubscription{
		ch:     make(chan broadcast.Message, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.read(reader, resp)
	return s, nil
}

type remoteSubscription struct {
	ch     chan broadcast.Message
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

func (s *remoteSubscription) C() <-chan broadcast.Message { return s.ch }

func (s *remoteSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
	})
	return nil
}

// read parses SSE frames until the stream ends. Only data lines matter;
// event names and comments are ignored.
func (s *remoteSubscription) read(reader *bufio.Reader, resp *http.Response) {
	defer close(s.ch)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(reader)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var msg broadcast.Message
			err := json.Unmarshal([]byte(data.String()), &msg)
			data.Reset()
			if err != nil || !msg.Type.Valid() {
				continue
			}
			select {
			case s.ch <- msg:
			case <-s.done:
				return
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
