package hub

import (
	"sync"

	"party-rooms/internal/domain"
)

// Delivery 描述一次投递经过去重后的结果
type Delivery int

const (
	// DeliveryBaseline 是订阅后的第一次投递，只确立基线，不触发可见反应
	DeliveryBaseline Delivery = iota
	// DeliveryFresh 表示计数严格大于上次看到的值，应当触发反应
	DeliveryFresh
	// DeliveryStale 表示重复或回退的投递，忽略
	DeliveryStale
)

// Subscription 记录一个订阅方对某个 gameId 最后看到的计数。
// 变更流是至少一次投递，重复和乱序都可能出现，只有严格递增的计数才会被当作新变化。
type Subscription struct {
	gameID string

	mu     sync.Mutex
	primed bool
	last   uint64
}

// NewSubscription 创建针对 gameID 的订阅
func NewSubscription(gameID string) *Subscription {
	return &Subscription{gameID: gameID}
}

// GameID 返回订阅过滤的 gameId
func (s *Subscription) GameID() string { return s.gameID }

// Accepts 报告事件是否属于此订阅 (同房间内其他 gameId 的变更被过滤掉)
func (s *Subscription) Accepts(event domain.RoomEvent) bool {
	return event.Type == domain.EventGameState && event.GameID == s.gameID
}

// Observe 记录一次投递的计数并返回去重结果
func (s *Subscription) Observe(counter uint64) Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		s.primed = true
		s.last = counter
		return DeliveryBaseline
	}
	if counter <= s.last {
		return DeliveryStale
	}
	s.last = counter
	return DeliveryFresh
}

// Last 返回最后确认的计数，以及基线是否已经确立
func (s *Subscription) Last() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.primed
}
