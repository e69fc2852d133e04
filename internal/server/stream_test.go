package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/glucocalc/internal/models"
)

func dialStream(t *testing.T, srv *Server, user string) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream?userId=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestStream_ReceivesGlucoseBroadcast(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialStream(t, srv, "u1")

	reading := models.GlucoseReading{UserID: "u1", SGV: 142, Date: time.Now().UnixMilli()}

	// The hub registers before the upgrade handler returns, but give
	// the connection a moment on slow runners.
	require.Eventually(t, func() bool {
		srv.Hub().mu.Lock()
		defer srv.Hub().mu.Unlock()
		return len(srv.Hub().conns["u1"]) == 1
	}, time.Second, 10*time.Millisecond)

	srv.Hub().BroadcastGlucose("u1", reading)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)

	var event struct {
		Type    string                `json:"type"`
		Payload models.GlucoseReading `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "glucose", event.Type)
	assert.Equal(t, 142, event.Payload.SGV)
}

func TestStream_ConcurrentBroadcastsToOneClient(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialStream(t, srv, "u1")

	require.Eventually(t, func() bool {
		srv.Hub().mu.Lock()
		defer srv.Hub().mu.Unlock()
		return len(srv.Hub().conns["u1"]) == 1
	}, time.Second, 10*time.Millisecond)

	// Glucose pushes from the feed poller and board pushes from the
	// treatment handler hit the same connection at the same time.
	const perSource = 25
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perSource; i++ {
			srv.Hub().BroadcastGlucose("u1", models.GlucoseReading{UserID: "u1", SGV: 120 + i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perSource; i++ {
			srv.Hub().BroadcastBoard("u1", models.BoardState{IOB: float64(i)})
		}
	}()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var glucose, board int
	for glucose+board < 2*perSource {
		_, payload, err := ws.ReadMessage()
		require.NoError(t, err)
		var event struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(payload, &event))
		switch event.Type {
		case "glucose":
			glucose++
		case "board":
			board++
		}
	}
	wg.Wait()

	assert.Equal(t, perSource, glucose)
	assert.Equal(t, perSource, board)
}

func TestStream_UsersDoNotCrossTalk(t *testing.T) {
	srv, _ := newTestServer(t)
	ws := dialStream(t, srv, "alice")

	require.Eventually(t, func() bool {
		srv.Hub().mu.Lock()
		defer srv.Hub().mu.Unlock()
		return len(srv.Hub().conns["alice"]) == 1
	}, time.Second, 10*time.Millisecond)

	srv.Hub().BroadcastGlucose("bob", models.GlucoseReading{UserID: "bob", SGV: 99})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err, "alice must not receive bob's reading")
}
