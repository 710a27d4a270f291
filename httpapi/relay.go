package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	goReauth "github.com/MrEthical07/goReauth"
	"github.com/MrEthical07/goReauth/broadcast"
	"github.com/MrEthical07/goReauth/result"
	"github.com/go-chi/chi/v5"
)

var topicName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// keepAlive spaces SSE comments so idle proxies keep the stream open.
const keepAlive = 25 * time.Second

// userTopic resolves the path topic into the caller's private namespace.
func (a *api) userTopic(w http.ResponseWriter, r *http.Request) (broadcast.Topic, bool) {
	name := chi.URLParam(r, "topic")
	if !topicName.MatchString(name) {
		result.WriteError(w, fmt.Errorf("%w: bad topic name", goReauth.ErrInvalidRequest))
		return nil, false
	}
	return a.topics.Topic(broadcast.UserTopic(claims(r).UserID, name)), true
}

func (a *api) publish(w http.ResponseWriter, r *http.Request) {
	topic, ok := a.userTopic(w, r)
	if !ok {
		return
	}
	var msg broadcast.Message
	if !decode(w, r, &msg) {
		return
	}
	if !msg.Type.Valid() {
		result.WriteError(w, fmt.Errorf("%w: unknown message type", goReauth.ErrInvalidRequest))
		return
	}
	if err := topic.Publish(r.Context(), msg); err != nil {
		a.fail(w, r, fmt.Errorf("%w: %v", goReauth.ErrUnavailable, err))
		return
	}
	result.WriteOK(w, http.StatusAccepted, msg)
}

// subscribe streams topic messages as Server-Sent Events. The first frame is
// a comment written after the subscription is live, so a client that has
// read it will not miss a later publish.
func (a *api) subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		result.WriteError(w, fmt.Errorf("%w: streaming unsupported", goReauth.ErrInvalidRequest))
		return
	}
	topic, ok := a.userTopic(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	sub, err := topic.Subscribe(ctx)
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: %v", goReauth.ErrUnavailable, err))
		return
	}
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
