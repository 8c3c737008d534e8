package internal_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-game-lobby/internal"
)

// TestMonitor_PublishWithoutClients 測試沒有觀察端時發布為 no-op
func TestMonitor_PublishWithoutClients(t *testing.T) {
	monitor := internal.NewMonitor(testLogger())
	defer monitor.Stop()

	// 不得阻塞或恐慌
	monitor.Publish(internal.LobbyEvent{Kind: "connect", Remote: "1.2.3.4:5"})
}

// TestMonitor_EventDelivery 測試事件以 JSON 推送給觀察端
func TestMonitor_EventDelivery(t *testing.T) {
	monitor := internal.NewMonitor(testLogger())
	defer monitor.Stop()

	server := httptest.NewServer(http.HandlerFunc(monitor.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// 觀察端的註冊與握手完成之間有微小間隙，重複發布直到送達
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				monitor.Publish(internal.LobbyEvent{
					Time:   time.Now(),
					Kind:   "recv",
					Remote: "127.0.0.1:54321",
					Code:   "Login",
				})
			}
		}
	}()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, message, err := ws.ReadMessage()
	require.NoError(t, err)

	var event internal.LobbyEvent
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, "recv", event.Kind)
	assert.Equal(t, "127.0.0.1:54321", event.Remote)
	assert.Equal(t, "Login", event.Code)
}
