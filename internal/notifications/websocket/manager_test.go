package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blue-carbon/registry-portal/registry-portal-backend/internal/notifications"
)

func dial(t *testing.T, m *Manager, identity string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := m.HandleConnection(w, r, identity)
		assert.NoError(t, err)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) notifications.WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg notifications.WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestManager_BroadcastAndAccountDelivery(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	defer m.Close()

	client := dial(t, m, "OwnerWallet")
	require.Eventually(t, func() bool { return m.GetConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, m.Broadcast(notifications.WebSocketMessage{
		Type: notifications.WSMessageTypeEvent,
		Data: map[string]interface{}{"event_type": "credits.minted"},
	}))
	msg := read(t, client)
	assert.Equal(t, notifications.WSMessageTypeEvent, msg.Type)
	assert.Equal(t, "credits.minted", msg.Data["event_type"])

	// The identity is subscribed to its own address on connect.
	n, err := m.SendToAccount("OwnerWallet", notifications.WebSocketMessage{Type: notifications.WSMessageTypeEvent})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	msg = read(t, client)
	assert.Equal(t, "OwnerWallet", msg.Target)

	_, err = m.SendToAccount("ProjectAddr", notifications.WebSocketMessage{Type: notifications.WSMessageTypeEvent})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_Subscribe(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	defer m.Close()

	client := dial(t, m, "")
	require.NoError(t, client.WriteJSON(notifications.WebSocketMessage{
		Type: notifications.WSMessageTypeSubscribe,
		Data: map[string]interface{}{"accounts": []string{"ProjectAddr"}},
	}))
	status := read(t, client)
	assert.Equal(t, notifications.WSMessageTypeStatus, status.Type)
	assert.Equal(t, "subscribed", status.Data["status"])

	n, err := m.SendToAccount("ProjectAddr", notifications.WebSocketMessage{Type: notifications.WSMessageTypeEvent})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "ProjectAddr", read(t, client).Target)

	info := m.GetConnectionInfo()
	require.Len(t, info, 1)
	assert.Contains(t, info[0].Accounts, "ProjectAddr")
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	m.Close()
	m.Close()
	assert.Error(t, m.Broadcast(notifications.WebSocketMessage{}))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://portal.example"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://portal.example")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))
}
