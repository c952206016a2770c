// Package feed streams live attendance counts for a session over a websocket.
package feed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"smartattendance/internal/attendance"
	"smartattendance/internal/metrics"
	"smartattendance/internal/session"
)

// Frame is one message pushed to a subscriber.
type Frame struct {
	SessionID string    `json:"session_id"`
	Present   int       `json:"present"`
	Total     int       `json:"total"`
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
	At        time.Time `json:"at"`
}

// Sessions loads the session a feed follows.
type Sessions interface {
	Lookup(ctx context.Context, id string) (session.Session, error)
}

// Counter counts the records of a session.
type Counter interface {
	SessionSnapshot(ctx context.Context, sessionID, courseID string) (attendance.Snapshot, error)
}

// Hub serves feed connections.
type Hub struct {
	sessions Sessions
	counter  Counter
	interval time.Duration
	origins  []string
	log      *zap.Logger
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

var errHubClosed = errors.New("feed hub closed")

// NewHub creates a hub that pushes a frame every interval. origins lists the
// browser origins allowed to open a feed.
func NewHub(sessions Sessions, counter Counter, interval time.Duration, origins []string, log *zap.Logger) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		sessions: sessions,
		counter:  counter,
		interval: interval,
		origins:  originHosts(origins),
		log:      log.Named("feed"),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Close ends every open feed with a going-away status. Serve calls made
// afterwards close immediately.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// originHosts turns configured origins into the host patterns the websocket
// handshake matches against.
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// Frame builds the current frame for sessionID.
func (h *Hub) Frame(ctx context.Context, sessionID string) (Frame, error) {
	s, err := h.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return Frame{}, err
	}
	snap, err := h.counter.SessionSnapshot(ctx, s.ID, s.CourseID)
	if err != nil {
		return Frame{}, err
	}
	now := h.now().UTC()
	return Frame{
		SessionID: s.ID,
		Present:   snap.Present,
		Total:     snap.Total,
		Active:    s.Live(now),
		ExpiresAt: s.ExpiresAt,
		At:        now,
	}, nil
}

// Serve upgrades the request and streams frames until the client leaves, the
// request context ends or the hub is closed. The caller must authorize access first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	metrics.FeedConnections.Inc()
	defer metrics.FeedConnections.Dec()

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sessionID); err != nil {
		if errors.Is(err, errHubClosed) {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
			return
		}
		h.log.Warn("feed stopped", zap.String("session_id", sessionID), zap.Error(err))
		conn.Close(websocket.StatusInternalError, "feed error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sessionID string) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return errHubClosed
		default:
		}
		frame, err := h.Frame(ctx, sessionID)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = wsjson.Write(writeCtx, conn, frame)
		cancel()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.done:
			return errHubClosed
		case <-ticker.C:
		}
	}
}
