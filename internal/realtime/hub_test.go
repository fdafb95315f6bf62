package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"owl-thermo/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "hello", readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	events := []models.AlertEvent{{EventID: "e1", AlertDescriptor: models.AlertDescriptor{DeviceID: "dev-1", Temperature: 60}}}
	require.NoError(t, hub.Publish(context.Background(), events))

	msg := readMessage(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "alert_triggered", msg.Event)
	raw, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"device_id":"dev-1"`)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// 未启动 Run，队列只进不出
	for i := 0; i < cap(hub.broadcast); i++ {
		require.True(t, hub.Broadcast("alert_triggered", i))
	}
	assert.False(t, hub.Broadcast("alert_triggered", "overflow"))
	assert.Error(t, hub.Publish(context.Background(), nil))
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		// 超过 unregister 缓冲区的断开也不能卡住 readPump
		for i := 0; i < cap(hub.unregister)*2; i++ {
			hub.Unregister(&Client{Send: make(chan []byte)})
		}
		_, ok := hub.Register(nil)
		assert.False(t, ok)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("hub calls blocked after Run exited")
	}
}

func TestHub_ServeWSAfterStopClosesConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, hub.Clients())
}
