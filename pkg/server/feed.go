package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// CaptionEvent is pushed to /ws/captions for every answered request.
type CaptionEvent struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Prompt  string    `json:"prompt"`
	Caption string    `json:"caption"`
	Image   string    `json:"image,omitempty"`
}

// subscriber is one /ws/captions connection.
type subscriber struct {
	id        string
	conn      *websocket.Conn
	connected time.Time

	mu sync.Mutex
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Feed keeps recent caption events and broadcasts new ones to subscribers.
type Feed struct {
	logger *slog.Logger
	size   int

	mu     sync.RWMutex
	subs   map[string]*subscriber
	recent []CaptionEvent

	published atomic.Uint64
	delivered atomic.Uint64
}

// FeedStats summarises feed activity.
type FeedStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
}

// NewFeed keeps the last size events for replay.
func NewFeed(size int, logger *slog.Logger) *Feed {
	return &Feed{
		logger: logger,
		size:   size,
		subs:   make(map[string]*subscriber),
	}
}

// RegisterRoutes mounts /ws/captions on app.
func (f *Feed) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/captions", websocket.New(f.handle))
}

// handle replays recent events then blocks reading until the peer leaves.
func (f *Feed) handle(c *websocket.Conn) {
	sub := &subscriber{id: uuid.NewString(), conn: c, connected: time.Now()}

	f.mu.Lock()
	backlog := make([]CaptionEvent, len(f.recent))
	copy(backlog, f.recent)
	f.subs[sub.id] = sub
	n := len(f.subs)
	f.mu.Unlock()

	f.logger.Debug("caption subscriber connected", "subscriber", sub.id, "subscribers", n)
	defer func() {
		f.mu.Lock()
		delete(f.subs, sub.id)
		n := len(f.subs)
		f.mu.Unlock()
		f.logger.Debug("caption subscriber left", "subscriber", sub.id, "subscribers", n)
	}()

	for _, ev := range backlog {
		data, _ := json.Marshal(ev)
		if err := sub.send(data); err != nil {
			return
		}
	}

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish records ev and sends it to every subscriber. A zero ID or Time is
// filled in.
func (f *Feed) Publish(ev CaptionEvent) CaptionEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	f.mu.Lock()
	f.recent = append(f.recent, ev)
	if len(f.recent) > f.size {
		f.recent = f.recent[len(f.recent)-f.size:]
	}
	subs := make([]*subscriber, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	f.published.Add(1)
	data, err := json.Marshal(ev)
	if err != nil {
		return ev
	}
	for _, s := range subs {
		if err := s.send(data); err != nil {
			f.logger.Debug("caption delivery failed", "subscriber", s.id, "error", err)
			continue
		}
		f.delivered.Add(1)
	}
	return ev
}

// Recent returns the retained events, oldest first.
func (f *Feed) Recent() []CaptionEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]CaptionEvent, len(f.recent))
	copy(out, f.recent)
	return out
}

// Stats returns feed counters.
func (f *Feed) Stats() FeedStats {
	f.mu.RLock()
	n := len(f.subs)
	f.mu.RUnlock()
	return FeedStats{
		Subscribers: n,
		Published:   f.published.Load(),
		Delivered:   f.delivered.Load(),
	}
}
