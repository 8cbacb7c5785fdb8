package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sports-dvr/backend/internal/models"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRecordingChangedReachesSubscribers(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)

	all := dial(t, srv, "")
	one := dial(t, srv, "?event_id=evt-2")
	waitClients(t, hub, 2)

	hub.RecordingChanged(models.Recording{EventID: "evt-1", EventName: "Derby", Status: models.StatusRecording})
	hub.RecordingChanged(models.Recording{EventID: "evt-2", EventName: "Final", Status: models.StatusStopped})

	first := readMessage(t, all)
	assert.Equal(t, EventRecordingUpdated, first.Event)
	var rec models.Recording
	require.NoError(t, json.Unmarshal(first.Data, &rec))
	assert.Equal(t, "evt-1", rec.EventID)
	assert.Equal(t, "evt-2", eventIDOf(t, readMessage(t, all)))

	// the filtered client only sees its own recording
	msg := readMessage(t, one)
	assert.Equal(t, "evt-2", eventIDOf(t, msg))
}

func TestUnregisterOnDisconnect(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "")
	waitClients(t, hub, 1)
	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)

	// broadcasting with no clients is a no-op
	hub.Broadcast("evt-1", EventRecordingUpdated, map[string]string{"a": "b"})
}

func TestRedisForwarding(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub(nil)
	srv := newTestServer(t, hub)
	conn := dial(t, srv, "?event_id=evt-3")
	waitClients(t, hub, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bridge := NewRedisPubSub(client, nil)
	require.NoError(t, bridge.Forward(ctx, hub))

	require.NoError(t, bridge.PublishEvent("evt-3", EventArchiveUploaded, map[string]string{"event_id": "evt-3", "s3_key": "archives/evt-3/x.mp4"}))

	msg := readMessage(t, conn)
	assert.Equal(t, EventArchiveUploaded, msg.Event)
	assert.JSONEq(t, `{"event_id":"evt-3","s3_key":"archives/evt-3/x.mp4"}`, string(msg.Data))
}

func eventIDOf(t *testing.T, msg WSMessage) string {
	t.Helper()
	var v struct {
		EventID string `json:"event_id"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v.EventID
}

func TestHubLogsClientCount(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	hub := NewHub(zap.New(core))
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "?event_id=evt-1")
	waitClients(t, hub, 1)

	connected := logs.FilterMessage("client connected").All()
	require.Len(t, connected, 1)
	assert.Equal(t, int64(1), connected[0].ContextMap()["clients"])
	assert.Equal(t, "evt-1", connected[0].ContextMap()["event_id"])

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)
	require.Eventually(t, func() bool {
		gone := logs.FilterMessage("client disconnected").All()
		return len(gone) == 1 && gone[0].ContextMap()["clients"] == int64(0)
	}, 2*time.Second, 10*time.Millisecond)
}
