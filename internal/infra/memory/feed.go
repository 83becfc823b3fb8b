package memory

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"
)

const subscriptionBuffer = 64

// ChangeFeed 是进程内的 repository.ChangeFeed 实现，按房间 ID 扇出事件。
// 订阅方缓冲区满时丢弃事件并记录告警，客户端依赖重连时的 snapshot 恢复。
type ChangeFeed struct {
	mu   sync.RWMutex
	subs map[string]map[*feedSubscription]struct{} // roomID -> 订阅集合
}

// NewChangeFeed 创建进程内变更流
func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: make(map[string]map[*feedSubscription]struct{})}
}

func (f *ChangeFeed) Publish(ctx context.Context, event domain.RoomEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.subs[event.RoomID] {
		select {
		case sub.events <- event:
		default:
			logrus.WithFields(logrus.Fields{"room_id": event.RoomID, "event_type": event.Type}).Warn("Subscriber buffer full, dropping room event")
		}
	}
	return nil
}

func (f *ChangeFeed) Subscribe(ctx context.Context, roomID string) (repository.FeedSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &feedSubscription{
		feed:   f,
		roomID: roomID,
		events: make(chan domain.RoomEvent, subscriptionBuffer),
	}
	f.mu.Lock()
	if _, ok := f.subs[roomID]; !ok {
		f.subs[roomID] = make(map[*feedSubscription]struct{})
	}
	f.subs[roomID][sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

func (f *ChangeFeed) remove(sub *feedSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[sub.roomID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(f.subs, sub.roomID)
		}
	}
	// 在写锁内关闭，保证 Publish 不会向已关闭的通道发送
	close(sub.events)
}

type feedSubscription struct {
	feed      *ChangeFeed
	roomID    string
	events    chan domain.RoomEvent
	closeOnce sync.Once
}

func (s *feedSubscription) Events() <-chan domain.RoomEvent { return s.events }

func (s *feedSubscription) Close() error {
	s.closeOnce.Do(func() { s.feed.remove(s) })
	return nil
}
