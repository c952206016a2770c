package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartattendance/internal/apperr"
	"smartattendance/internal/attendance"
	"smartattendance/internal/session"
)

type fakeSessions struct{ s session.Session }

func (f fakeSessions) Lookup(_ context.Context, id string) (session.Session, error) {
	if id != f.s.ID {
		return session.Session{}, apperr.NotFound("session not found")
	}
	return f.s, nil
}

type fakeCounter struct{ present atomic.Int32 }

func (f *fakeCounter) SessionSnapshot(_ context.Context, sessionID, _ string) (attendance.Snapshot, error) {
	return attendance.Snapshot{SessionID: sessionID, Present: int(f.present.Load()), Total: 30}, nil
}

func TestFrameReflectsSession(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s := session.Session{ID: "s1", CourseID: "c1", Active: true, ExpiresAt: now.Add(10 * time.Minute)}
	counter := &fakeCounter{}
	counter.present.Store(4)
	hub := NewHub(fakeSessions{s}, counter, time.Second, nil, zap.NewNop())
	hub.now = func() time.Time { return now }

	f, err := hub.Frame(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, Frame{SessionID: "s1", Present: 4, Total: 30, Active: true, ExpiresAt: s.ExpiresAt, At: now}, f)

	hub.now = func() time.Time { return now.Add(time.Hour) }
	f, err = hub.Frame(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, f.Active)

	_, err = hub.Frame(context.Background(), "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestServeStreamsFrames(t *testing.T) {
	s := session.Session{ID: "s1", CourseID: "c1", Active: true, ExpiresAt: time.Now().Add(time.Hour)}
	counter := &fakeCounter{}
	hub := NewHub(fakeSessions{s}, counter, 20*time.Millisecond, nil, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, "s1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first Frame
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "s1", first.SessionID)
	assert.Equal(t, 0, first.Present)
	assert.True(t, first.Active)

	counter.present.Store(2)
	require.Eventually(t, func() bool {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return false
		}
		return f.Present == 2
	}, 3*time.Second, time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestOriginHosts(t *testing.T) {
	got := originHosts([]string{"http://localhost:5173", "https://attend.example", "*"})
	assert.Equal(t, []string{"localhost:5173", "attend.example", "*"}, got)
}

func TestCloseEndsOpenFeeds(t *testing.T) {
	s := session.Session{ID: "s1", CourseID: "c1", Active: true, ExpiresAt: time.Now().Add(time.Hour)}
	hub := NewHub(fakeSessions{s}, &fakeCounter{}, time.Hour, nil, zap.NewNop())

	served := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(served)
		hub.Serve(w, r, "s1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first Frame
	require.NoError(t, wsjson.Read(ctx, conn, &first))

	hub.Close()
	hub.Close()

	var next Frame
	err = wsjson.Read(ctx, conn, &next)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	select {
	case <-served:
	case <-ctx.Done():
		t.Fatal("Serve did not return after Close")
	}
}
