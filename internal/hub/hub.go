package hub

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"party-rooms/internal/domain"
	"party-rooms/internal/dto"
	"party-rooms/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Hub 内部通道的消息类型
const (
	MessageRegister   = "register"
	MessageUnregister = "unregister"
)

// HubMessage 定义了在 Hub 内部通道传递的消息
type HubMessage struct {
	Type   string
	Client *Client
}

// StateLoader 读取房间内某个 gameId 的当前状态，用于连接建立时的 snapshot
type StateLoader interface {
	LoadState(ctx context.Context, roomID, gameID string) (*domain.GameState, error)
}

// roomEntry 是一个房间在本实例上的所有连接，以及它们共享的变更流订阅
type roomEntry struct {
	clients map[*Client]bool
	sub     repository.FeedSubscription
}

// Hub 维护活跃连接，并把变更流上的房间事件扇出给这些连接。
// 每个房间在本实例上只订阅一次变更流，无论有多少连接。
type Hub struct {
	// 注册/注销请求，只由 Run 的 goroutine 处理，因此 rooms 的增删是串行的
	messageChan chan HubMessage

	rooms   map[string]*roomEntry
	roomsMu sync.RWMutex

	feed      repository.ChangeFeed
	states    StateLoader
	opTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry
}

// NewHub 创建 Hub。opTimeout 限制每次订阅和读取 snapshot 的耗时。
func NewHub(feed repository.ChangeFeed, states StateLoader, opTimeout time.Duration) *Hub {
	if feed == nil {
		panic("ChangeFeed cannot be nil for Hub")
	}
	if states == nil {
		panic("StateLoader cannot be nil for Hub")
	}
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		messageChan: make(chan HubMessage, 256),
		rooms:       make(map[string]*roomEntry),
		feed:        feed,
		states:      states,
		opTimeout:   opTimeout,
		ctx:         ctx,
		cancel:      cancel,
		log:         logrus.WithField("component", "hub"),
	}
}

// Run 启动 Hub 的主事件处理循环，应该在单独的 goroutine 中运行。
// StopAllSubscriptions 之后返回。
func (h *Hub) Run() {
	h.log.Info("Hub is running...")
	for {
		select {
		case <-h.ctx.Done():
			h.log.Info("Hub is shutting down...")
			return
		case msg := <-h.messageChan:
			switch msg.Type {
			case MessageRegister:
				h.registerClient(msg.Client)
			case MessageUnregister:
				h.unregisterClient(msg.Client)
			default:
				h.log.Warnf("Hub: Received unknown message type: %s", msg.Type)
			}
		}
	}
}

// registerClient 把客户端加入房间，必要时先订阅房间的变更流，然后异步发送 snapshot。
// 先订阅再读取 snapshot，两者之间的变更会作为 update 到达，不会丢失。
func (h *Hub) registerClient(client *Client) {
	if client == nil {
		h.log.Error("Hub: Attempted to register a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := client.log.WithField("action", "registerClient")

	h.roomsMu.RLock()
	entry, exists := h.rooms[roomID]
	h.roomsMu.RUnlock()

	if !exists {
		// 订阅是 I/O，不在锁内进行；rooms 只在 Run 的 goroutine 中修改，所以检查和插入之间不会有竞争
		ctx, cancel := context.WithTimeout(h.ctx, h.opTimeout)
		sub, err := h.feed.Subscribe(ctx, roomID)
		cancel()
		if err != nil {
			logCtx.WithError(err).Error("Failed to subscribe to room feed")
			client.enqueue(dto.StreamMessage{Type: dto.StreamError, Message: "realtime feed unavailable"}, true)
			return
		}
		entry = &roomEntry{clients: make(map[*Client]bool), sub: sub}
		h.roomsMu.Lock()
		h.rooms[roomID] = entry
		h.roomsMu.Unlock()
		go h.pumpRoom(roomID, sub)
		logCtx.Info("Subscribed to room feed")
	}

	h.roomsMu.Lock()
	entry.clients[client] = true
	h.roomsMu.Unlock()
	logCtx.Info("Client registered to Hub")

	go h.sendInitialSnapshot(client)
}

// unregisterClient 移除客户端，房间没有连接后取消订阅
func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		h.log.Error("Hub: Attempted to unregister a nil client")
		return
	}
	roomID := client.RoomID()
	logCtx := client.log.WithField("action", "unregisterClient")

	var emptied repository.FeedSubscription
	h.roomsMu.Lock()
	if entry, ok := h.rooms[roomID]; ok {
		if _, clientExists := entry.clients[client]; clientExists {
			delete(entry.clients, client)
			client.closeSend()
			if len(entry.clients) == 0 {
				delete(h.rooms, roomID)
				emptied = entry.sub
			}
		} else {
			logCtx.Debug("Client not found in room during unregister")
		}
	}
	h.roomsMu.Unlock()

	if emptied != nil {
		if err := emptied.Close(); err != nil {
			logCtx.WithError(err).Warn("Failed to close room feed subscription")
		}
		logCtx.Info("Room empty, feed subscription closed")
	}
	logCtx.Info("Client unregistered from Hub")
}

// pumpRoom 把房间订阅上的事件分发给本实例上的连接，订阅关闭后退出
func (h *Hub) pumpRoom(roomID string, sub repository.FeedSubscription) {
	for event := range sub.Events() {
		h.dispatch(roomID, event)
	}
	h.log.WithField("room_id", roomID).Debug("Room feed pump exited")
}

// dispatch 把一个房间事件交给该房间的所有连接
func (h *Hub) dispatch(roomID string, event domain.RoomEvent) {
	h.roomsMu.RLock()
	entry, ok := h.rooms[roomID]
	clients := make([]*Client, 0)
	if ok {
		for c := range entry.clients {
			clients = append(clients, c)
		}
	}
	h.roomsMu.RUnlock()

	if len(clients) == 0 {
		return
	}

	switch event.Type {
	case domain.EventGameState:
		state := &domain.GameState{
			RoomID:    event.RoomID,
			GameID:    event.GameID,
			Payload:   string(event.Payload),
			Version:   event.Version,
			UpdatedAt: event.UpdatedAt,
		}
		for _, c := range clients {
			if c.sub.Accepts(event) {
				c.offerState(state)
			}
		}
	case domain.EventRoomClosed:
		h.log.WithFields(logrus.Fields{"room_id": roomID, "recipient_count": len(clients)}).Info("Room closed, notifying clients")
		for _, c := range clients {
			c.enqueue(dto.StreamMessage{Type: dto.StreamRoomClosed}, true)
		}
	default:
		h.log.WithField("room_id", roomID).Warnf("Ignoring unknown room event type: %s", event.Type)
	}
}

// sendInitialSnapshot 读取当前状态并作为第一条投递发送，确立去重基线
func (h *Hub) sendInitialSnapshot(client *Client) {
	ctx, cancel := context.WithTimeout(h.ctx, h.opTimeout)
	defer cancel()

	state, err := h.states.LoadState(ctx, client.RoomID(), client.GameID())
	if err != nil {
		client.log.WithError(err).Error("Failed to load initial game state")
		client.enqueue(dto.StreamMessage{Type: dto.StreamError, Message: "failed to load game state"}, true)
		return
	}
	client.offerState(state)
}

// QueueMessage 将消息放入 Hub 的处理队列 (非阻塞)，队列已满时返回 false
func (h *Hub) QueueMessage(msg HubMessage) bool {
	select {
	case h.messageChan <- msg:
		return true
	default:
		h.log.WithField("message_type", msg.Type).Warn("Hub message channel full, dropping message")
		return false
	}
}

// StopAllSubscriptions 停止 Run 循环，关闭所有房间订阅和客户端发送通道
func (h *Hub) StopAllSubscriptions() {
	h.cancel()

	h.roomsMu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*roomEntry)
	h.roomsMu.Unlock()

	for roomID, entry := range rooms {
		for c := range entry.clients {
			c.closeSend()
		}
		if err := entry.sub.Close(); err != nil {
			h.log.WithError(err).WithField("room_id", roomID).Warn("Failed to close room feed subscription")
		}
	}
	h.log.Infof("Stopped %d room subscriptions", len(rooms))
}

// ConnectedClients 返回房间在本实例上的连接数
func (h *Hub) ConnectedClients(roomID string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if entry, ok := h.rooms[roomID]; ok {
		return len(entry.clients)
	}
	return 0
}
