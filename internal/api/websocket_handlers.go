// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// DocumentWebSocket 订阅文档事件 (document_processed / record_summarized)
func (h *Handler) DocumentWebSocket(c *gin.Context) {
	documentID := c.Param("id")
	if _, err := h.DocumentService.Get(documentID); err != nil {
		h.Response.HandleError(c, err, "文档不存在")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("❌ WebSocket 升级失败", map[string]interface{}{"error": err.Error()})
		return
	}

	client := newWebSocketClient(conn, documentID)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}
	defer h.Hub.Unregister(client)

	go h.handleWebSocketWrites(client)

	h.sendMessage(client, map[string]interface{}{
		"type":        "connected",
		"document_id": documentID,
		"timestamp":   time.Now().Format(time.RFC3339),
	})

	h.handleWebSocketReads(client)
}

// GetWebSocketStatus 获取 WebSocket 连接状态
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.Hub.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}

// handleWebSocketReads 读取客户端消息直到连接断开
func (h *Handler) handleWebSocketReads(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for !client.IsClosed() {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("⚠️ WebSocket 读取错误", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendMessage(client, map[string]interface{}{"type": "error", "error": "无效的JSON消息"})
			continue
		}
		h.handleMessage(client, message)
	}
}

// handleMessage 只处理心跳，其余消息类型返回错误
func (h *Handler) handleMessage(client *WebSocketClient, message map[string]interface{}) {
	switch message["type"] {
	case "ping":
		h.sendMessage(client, map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	default:
		h.sendMessage(client, map[string]interface{}{"type": "error", "error": "未知的消息类型"})
	}
}

// handleWebSocketWrites 把队列中的消息写入连接，并定期发送ping
func (h *Handler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case <-client.quit:
			return
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("❌ WebSocket 写入失败", map[string]interface{}{"error": err.Error()})
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage 把消息放入客户端队列，队列满时丢弃
func (h *Handler) sendMessage(client *WebSocketClient, message map[string]interface{}) {
	if client.IsClosed() {
		return
	}
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case client.send <- data:
	default:
		h.logger.Warn("⚠️ 客户端消息队列已满，消息被丢弃", map[string]interface{}{"document_id": client.documentID})
	}
}
