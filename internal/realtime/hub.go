package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"owl-thermo/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Message 是推送到看板的统一消息结构
type Message struct {
	Type  string      `json:"type"`            // event / hello
	Event string      `json:"event,omitempty"` // alert_triggered
	Data  interface{} `json:"data,omitempty"`
	TS    string      `json:"ts"`
}

type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

// Hub 管理 websocket 连接并广播报警事件
type Hub struct {
	mu sync.RWMutex

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{} // Run 退出后关闭

	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源
			},
		},
		logger: logger,
	}
}

// Run 处理注册和广播，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			// 客户端写入慢：踢掉
			for _, c := range slow {
				h.remove(c)
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.Send)
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register 登记新连接，hub 已停止时返回 false
func (h *Hub) Register(conn *websocket.Conn) (*Client, bool) {
	c := &Client{
		Conn: conn,
		Send: make(chan []byte, 64),
	}
	select {
	case <-h.done:
		return nil, false
	default:
	}
	select {
	case h.register <- c:
		return c, true
	case <-h.done:
		return nil, false
	}
}

// Unregister hub 已停止时直接返回（Run 退出时已清理所有连接）
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast broadcast 堵住了就丢弃，不拖慢报警评估
func (h *Hub) Broadcast(event string, data interface{}) bool {
	b, err := json.Marshal(Message{
		Type:  "event",
		Event: event,
		Data:  data,
		TS:    time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return false
	}
	select {
	case h.broadcast <- b:
		return true
	default:
		return false
	}
}

func (h *Hub) Name() string { return "websocket" }

// Publish 一批报警作为一条 alert_triggered 事件推送
func (h *Hub) Publish(_ context.Context, events []models.AlertEvent) error {
	if !h.Broadcast("alert_triggered", events) {
		return fmt.Errorf("websocket broadcast queue full, dropped %d alerts", len(events))
	}
	return nil
}

// ServeWS 升级连接并保持推送，直到客户端断开
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c, ok := h.Register(conn)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	h.readPump(c)
}

// readPump 只处理 pong 和关闭，客户端消息被忽略
func (h *Hub) readPump(c *Client) {
	defer func() {
		h.Unregister(c)
		_ = c.Conn.Close()
	}()

	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 先发 hello，再转发 Send 中的消息并定时 ping
func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	hello, _ := json.Marshal(Message{Type: "hello", TS: time.Now().Format(time.RFC3339)})
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.Conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	for {
		select {
		case msg, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
