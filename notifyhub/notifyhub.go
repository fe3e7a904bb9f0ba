// Package notifyhub implements the Policy Gate's real-time notification
// fan-out: one Redis Pub/Sub subscription per project, multiplexed to
// any number of SSE clients through bounded, drop-oldest channels so one
// slow subscriber never blocks another.
package notifyhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenstack/logflow/logmodel"
	"github.com/lumenstack/logflow/observability"
)

func channelName(projectID string) string {
	return fmt.Sprintf("notifications:errors:%s", projectID)
}

// ErrorNotification is the payload published for error/critical level
// events.
type ErrorNotification struct {
	LogID       string    `json:"log_id"`
	ProjectID   string    `json:"project_id"`
	Level       string    `json:"level"`
	ErrorType   string    `json:"error_type,omitempty"`
	Message     string    `json:"message"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publish fires a fire-and-forget notification for a notifiable event.
// Failures are logged, never surfaced to the ingest caller (spec: best
// effort, no delivery guarantee).
func Publish(ctx context.Context, rdb *redis.Client, logger zerolog.Logger, ev logmodel.LogEvent) {
	if !ev.Level.IsNotifiable() {
		return
	}
	n := ErrorNotification{
		LogID:       ev.ID,
		ProjectID:   ev.ProjectID,
		Level:       string(ev.Level),
		ErrorType:   ev.ErrorType,
		Message:     ev.Message,
		Fingerprint: ev.Fingerprint,
		Timestamp:   ev.Timestamp,
	}
	raw, err := json.Marshal(n)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal notification")
		return
	}
	if err := rdb.Publish(ctx, channelName(ev.ProjectID), raw).Err(); err != nil {
		logger.Warn().Err(err).Str("project_id", ev.ProjectID).Msg("failed to publish notification")
	}
}

type subscriber struct {
	ch chan []byte
}

// projectHub fans one Redis subscription out to N local subscriber
// channels.
type projectHub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	cancel      context.CancelFunc
}

// Hub serves the SSE notification endpoint, lazily subscribing to a
// project's Redis channel on first local client and tearing the
// subscription down once the last one disconnects.
type Hub struct {
	rdb     *redis.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
	chanBuf int

	mu   sync.Mutex
	hubs map[string]*projectHub
}

// New creates a Hub.
func New(rdb *redis.Client, logger zerolog.Logger, metrics *observability.Metrics, chanBuf int) *Hub {
	if chanBuf <= 0 {
		chanBuf = 32
	}
	return &Hub{
		rdb:     rdb,
		logger:  logger.With().Str("component", "notifyhub").Logger(),
		metrics: metrics,
		chanBuf: chanBuf,
		hubs:    make(map[string]*projectHub),
	}
}

// ServeHTTP streams projectID's notifications as Server-Sent Events. It
// serves GET /api/v1/notifications/stream, whose handler takes projectID
// from the resolved credential, not from a query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, projectID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := h.subscribe(r.Context(), projectID)
	defer h.unsubscribe(projectID, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "event: error\ndata: %s\n\n", msg); err != nil {
				h.logger.Debug().Err(err).Msg("client disconnected during notification stream")
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Hub) subscribe(ctx context.Context, projectID string) *subscriber {
	h.mu.Lock()
	ph, ok := h.hubs[projectID]
	if !ok {
		hubCtx, cancel := context.WithCancel(context.Background())
		ph = &projectHub{subscribers: make(map[*subscriber]struct{}), cancel: cancel}
		h.hubs[projectID] = ph
		go h.runProjectHub(hubCtx, projectID, ph)
	}
	sub := &subscriber{ch: make(chan []byte, h.chanBuf)}
	ph.mu.Lock()
	ph.subscribers[sub] = struct{}{}
	ph.mu.Unlock()
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(projectID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ph, ok := h.hubs[projectID]
	if !ok {
		return
	}
	ph.mu.Lock()
	delete(ph.subscribers, sub)
	empty := len(ph.subscribers) == 0
	ph.mu.Unlock()
	if empty {
		ph.cancel()
		delete(h.hubs, projectID)
	}
}

// runProjectHub owns one Redis Pub/Sub subscription for a project and
// fans each message out to every currently-registered local subscriber,
// dropping the oldest buffered message for any subscriber whose channel
// is full rather than blocking the fan-out loop.
func (h *Hub) runProjectHub(ctx context.Context, projectID string, ph *projectHub) {
	pubsub := h.rdb.Subscribe(ctx, channelName(projectID))
	defer pubsub.Close()

	msgCh := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			h.fanOut(ph, []byte(msg.Payload))
		}
	}
}

func (h *Hub) fanOut(ph *projectHub, payload []byte) {
	ph.mu.Lock()
	defer ph.mu.Unlock()
	for sub := range ph.subscribers {
		select {
		case sub.ch <- payload:
		default:
			// Drop-oldest: make room for the new message rather than
			// block the whole project's fan-out on one slow client.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- payload:
			default:
			}
			if h.metrics != nil {
				h.metrics.NotificationsDropped.Inc()
			}
		}
	}
}
