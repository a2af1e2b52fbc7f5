package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/annel0/sandblox/internal/eventbus"
	"github.com/annel0/sandblox/internal/logging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, clients int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == clients }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func envelope(t *testing.T, eventType string, payload interface{}) *eventbus.Envelope {
	t.Helper()
	ev, err := eventbus.NewEnvelope("world", eventType, "corr-1", 5, payload)
	require.NoError(t, err)
	return ev
}

func TestHubBroadcastsEvents(t *testing.T) {
	hub, url := startHub(t)
	first := dial(t, hub, url, 1)
	second := dial(t, hub, url, 2)

	hub.HandleEvent(context.Background(), envelope(t, eventbus.TypeBlockChanged, eventbus.BlockChanged{X: 1, Y: 2, Z: 3, Type: 4}))

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, eventbus.TypeBlockChanged, msg.Type)
		assert.Equal(t, "world", msg.Source)
		assert.Equal(t, "corr-1", msg.CorrelationID)

		var changed eventbus.BlockChanged
		require.NoError(t, json.Unmarshal(msg.Payload, &changed))
		assert.Equal(t, 3, changed.Z)
		assert.Equal(t, uint8(4), changed.Type)
	}
}

func TestHubFiltersByType(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.WriteJSON(Subscribe{Types: []string{eventbus.TypeChunkRebuilt}}))
	assert.Equal(t, TypeSubscribed, readMessage(t, conn).Type)

	hub.HandleEvent(context.Background(), envelope(t, eventbus.TypeBlockChanged, eventbus.BlockChanged{}))
	hub.HandleEvent(context.Background(), envelope(t, eventbus.TypeChunkRebuilt, eventbus.ChunkRebuilt{Index: 7}))

	msg := readMessage(t, conn)
	assert.Equal(t, eventbus.TypeChunkRebuilt, msg.Type, "BlockChanged отфильтрован")
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

// lockedBuffer буфер логов, безопасный для чтения во время записи
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHubLogsConnectionLifecycle(t *testing.T) {
	var out lockedBuffer
	logger, err := logging.NewLoggerWithOptions(logging.Options{
		Component:    "stream",
		ConsoleLevel: logging.DEBUG,
		FileLevel:    logging.ERROR,
		Console:      &out,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	hub.logger = logger
	go hub.Run(ctx)

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("не json")))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Ошибка разбора сообщения")
	}, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Клиент отключён")
	}, 2*time.Second, 5*time.Millisecond)

	logs := out.String()
	assert.Contains(t, logs, "Клиент подключён")
	assert.NotContains(t, logs, "Client ")
	assert.NotContains(t, logs, "Error ")
}
