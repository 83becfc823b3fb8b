package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"party-rooms/internal/domain"
	"party-rooms/internal/dto"
)

// outbound 是写入 send 通道的一条消息，final 为 true 时写完后关闭连接
type outbound struct {
	data  []byte
	final bool
}

// Client 代表一个订阅了某房间某个 gameId 的 WebSocket 连接。
// 连接只读：状态写入走 HTTP 接口，这里只推送变更。
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	roomID   string
	playerID string
	sub      *Subscription
	send     chan outbound

	mu     sync.Mutex // 保证去重和入队的顺序一致，并保护 closed
	closed bool
	log    *logrus.Entry
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, roomID, playerID, gameID string) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		hub:      hub,
		conn:     conn,
		roomID:   roomID,
		playerID: playerID,
		sub:      NewSubscription(gameID),
		send:     make(chan outbound, 64),
		log: logrus.WithFields(logrus.Fields{
			"client_id": id,
			"room_id":   roomID,
			"player_id": playerID,
			"game_id":   gameID,
		}),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// offerState 对一次状态投递做去重：第一次作为 snapshot 发送，之后只发送计数更大的 update
func (c *Client) offerState(state *domain.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var kind string
	switch c.sub.Observe(state.Version) {
	case DeliveryBaseline:
		kind = dto.StreamSnapshot
	case DeliveryFresh:
		kind = dto.StreamUpdate
	default:
		c.log.WithField("version", state.Version).Debug("Dropping duplicate or stale delivery")
		return
	}

	msg := dto.StreamMessage{
		Type:    kind,
		GameID:  state.GameID,
		Payload: json.RawMessage(state.Payload),
		Version: state.Version,
	}
	if len(msg.Payload) == 0 {
		msg.Payload = json.RawMessage("null")
	}
	if !state.UpdatedAt.IsZero() {
		t := state.UpdatedAt
		msg.UpdatedAt = &t
	}
	c.enqueueLocked(msg, false)
}

// enqueue 非阻塞地把消息放入发送队列，队列满或已关闭时丢弃
func (c *Client) enqueue(msg dto.StreamMessage, final bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enqueueLocked(msg, final)
}

func (c *Client) enqueueLocked(msg dto.StreamMessage, final bool) bool {
	if c.closed {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("Failed to marshal stream message")
		return false
	}
	select {
	case c.send <- outbound{data: data, final: final}:
		return true
	default:
		c.log.WithField("message_type", msg.Type).Warn("Client send channel full, message dropped")
		return false
	}
}

// closeSend 关闭发送通道，WritePump 随后发送关闭帧并退出。只能由 Hub 调用。
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump 读取对端消息以处理 pong 和关闭帧。
// 它在自己的 goroutine 中运行，退出时请求 Hub 注销此客户端。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.QueueMessage(HubMessage{Type: MessageUnregister, Client: c})
		c.conn.Close()
		c.log.Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.log.Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		// 下行专用连接，客户端发来的内容只记录不处理
		c.log.Debugf("Ignoring inbound message (type: %d, size: %d)", messageType, len(message))
	}
}

// WritePump 将 send 通道中的消息写到连接上，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Info("writePump exited")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭了
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				c.log.WithError(err).Warn("Failed to write message to websocket")
				return
			}
			if msg.final {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "room closed"))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) RoomID() string   { return c.roomID }
func (c *Client) PlayerID() string { return c.playerID }
func (c *Client) GameID() string   { return c.sub.GameID() }
func (c *Client) CloseConn()       { c.conn.Close() }
