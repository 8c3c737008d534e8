package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Monitor 大廳監控中心：把大廳事件（連線、封包、斷線）以 JSON
// 推送給觀察端的 WebSocket 連線。純旁路觀測，從不影響大廳正確性。
//
// Hub 模式設計：
//   - 集中管理所有觀察端連線
//   - 發布端非阻塞：觀察端太慢就丟事件，絕不拖慢工作者
//   - 每條連線一個緩衝 Send channel + writePump
type Monitor struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients map[*monitorClient]struct{}
	mu      sync.RWMutex

	stopCh chan struct{}
	once   sync.Once
}

// LobbyEvent 一筆大廳事件
type LobbyEvent struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"` // connect, disconnect, recv, send
	Remote string    `json:"remote"`
	Code   string    `json:"code,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// monitorClient 一個觀察端連線
type monitorClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewMonitor 建立監控中心
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 監控端點只應暴露在管理位址上
				return true
			},
		},
		clients: make(map[*monitorClient]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Publish 發布一筆事件給所有觀察端。非阻塞：緩衝滿就丟棄。
func (m *Monitor) Publish(event LobbyEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.clients) == 0 {
		return
	}
	message, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("序列化事件失敗", "error", err)
		return
	}
	for client := range m.clients {
		select {
		case client.send <- message:
		default:
			// 觀察端太慢，丟棄這筆事件
		}
	}
}

// ServeWS 處理觀察端的 WebSocket 連線
func (m *Monitor) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &monitorClient{
		conn: conn,
		send: make(chan []byte, 256),
	}
	m.register(client)
	m.logger.Info("監控端連線", "remote", r.RemoteAddr)

	go m.writePump(client)
	go m.readPump(client)
}

func (m *Monitor) register(client *monitorClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client] = struct{}{}
}

func (m *Monitor) unregister(client *monitorClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.clients[client]; exists {
		delete(m.clients, client)
		client.closeOnce.Do(func() {
			close(client.send)
		})
	}
}

// writePump 把事件寫給觀察端，並以週期 Ping 維持心跳
func (m *Monitor) writePump(client *monitorClient) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-m.stopCh:
			return
		}
	}
}

// readPump 觀察端不送資料，讀取只為偵測關閉與回應 Pong
func (m *Monitor) readPump(client *monitorClient) {
	defer func() {
		m.unregister(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Stop 停止監控中心並關閉所有觀察端連線
func (m *Monitor) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.closeOnce.Do(func() {
			close(client.send)
		})
		client.conn.Close()
	}
	m.clients = make(map[*monitorClient]struct{})
	m.logger.Info("監控中心已停止")
}
