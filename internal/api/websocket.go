// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/GeneGenie/internal/services"
	"github.com/Corphon/GeneGenie/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示订阅某个文档事件的客户端
type WebSocketClient struct {
	conn       WebSocketConnection
	documentID string
	send       chan []byte
	quit       chan struct{}
	closed     int32 // 0=开启，1=关闭
	lastPing   atomic.Int64
	createdAt  time.Time
}

func newWebSocketClient(conn WebSocketConnection, documentID string) *WebSocketClient {
	client := &WebSocketClient{
		conn:       conn,
		documentID: documentID,
		send:       make(chan []byte, 64),
		quit:       make(chan struct{}),
		createdAt:  time.Now(),
	}
	client.UpdatePing()
	return client
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.quit)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// DocumentHub 按文档ID管理 WebSocket 连接，并把服务层事件推送给订阅者
type DocumentHub struct {
	connections map[string]map[*WebSocketClient]struct{} // documentID -> clients
	unregister  chan *WebSocketClient
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewDocumentHub 创建并启动事件中心
func NewDocumentHub() *DocumentHub {
	hub := &DocumentHub{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		unregister:  make(chan *WebSocketClient, 64),
		done:        make(chan struct{}),
		pingTimeout: 90 * time.Second,
		logger:      utils.GetLogger(),
	}
	go hub.run()
	return hub
}

// run 运行管理器主循环
func (hub *DocumentHub) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-hub.unregister:
			hub.unregisterClient(client)
		case <-cleanupTicker.C:
			hub.cleanupExpiredConnections()
		case <-hub.done:
			hub.shutdown()
			return
		}
	}
}

// Close 关闭所有连接并停止主循环
func (hub *DocumentHub) Close() {
	hub.closeOnce.Do(func() { close(hub.done) })
}

// Register 登记客户端，事件中心已关闭时返回 false
func (hub *DocumentHub) Register(client *WebSocketClient) bool {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	select {
	case <-hub.done:
		return false
	default:
	}

	if hub.connections[client.documentID] == nil {
		hub.connections[client.documentID] = make(map[*WebSocketClient]struct{})
	}
	hub.connections[client.documentID][client] = struct{}{}

	hub.logger.Debug("✅ WebSocket 客户端已连接", map[string]interface{}{"document_id": client.documentID})
	return true
}

// Unregister 异步注销客户端
func (hub *DocumentHub) Unregister(client *WebSocketClient) {
	client.Close()
	select {
	case hub.unregister <- client:
	case <-hub.done:
	case <-time.After(time.Second):
		hub.logger.Warn("⚠️ WebSocket 客户端注销超时", map[string]interface{}{"document_id": client.documentID})
	}
}

func (hub *DocumentHub) unregisterClient(client *WebSocketClient) {
	hub.mutex.Lock()
	if clients, exists := hub.connections[client.documentID]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(hub.connections, client.documentID)
		}
	}
	hub.mutex.Unlock()

	client.Close()
	hub.logger.Debug("🔌 WebSocket 客户端已断开", map[string]interface{}{"document_id": client.documentID})
}

// cleanupExpiredConnections 清理过期和死连接
func (hub *DocumentHub) cleanupExpiredConnections() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for documentID, clients := range hub.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(hub.pingTimeout) {
				delete(clients, client)
				client.Close()
			}
		}
		if len(clients) == 0 {
			delete(hub.connections, documentID)
		}
	}
}

func (hub *DocumentHub) shutdown() {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	for _, clients := range hub.connections {
		for client := range clients {
			client.Close()
		}
	}
	hub.connections = make(map[string]map[*WebSocketClient]struct{})
	hub.logger.Info("🛑 WebSocket 事件中心已关闭", nil)
}

// Publish 实现 services.EventPublisher，把事件发送给该文档的订阅者
func (hub *DocumentHub) Publish(event services.DocumentEvent) {
	message, err := json.Marshal(map[string]interface{}{
		"type":        event.Type,
		"document_id": event.DocumentID,
		"data":        event.Data,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		hub.logger.Error("❌ 序列化事件失败", map[string]interface{}{"error": err.Error()})
		return
	}

	hub.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(hub.connections[event.DocumentID]))
	for client := range hub.connections[event.DocumentID] {
		if !client.IsClosed() {
			clients = append(clients, client)
		}
	}
	hub.mutex.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// 队列满的慢客户端直接断开
			hub.logger.Warn("⚠️ 客户端消息队列已满，连接将被关闭", map[string]interface{}{
				"document_id": event.DocumentID,
			})
			client.Close()
		}
	}
}

// GetStatus 获取连接状态
func (hub *DocumentHub) GetStatus() map[string]interface{} {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()

	documents := make(map[string]int, len(hub.connections))
	total := 0
	for documentID, clients := range hub.connections {
		active := 0
		for client := range clients {
			if !client.IsClosed() {
				active++
			}
		}
		documents[documentID] = active
		total += active
	}

	return map[string]interface{}{
		"total_documents":      len(hub.connections),
		"total_connections":    total,
		"documents":            documents,
		"ping_timeout_seconds": int(hub.pingTimeout.Seconds()),
	}
}
