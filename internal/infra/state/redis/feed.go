package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"party-rooms/internal/domain"
	"party-rooms/internal/repository"
)

// RedisChangeFeed 是 ChangeFeed 的 Redis Pub/Sub 实现，每个房间一个频道。
// Pub/Sub 本身不重放历史消息，断线重连的客户端依靠 snapshot 追上最新状态。
type RedisChangeFeed struct {
	client *redis.Client
	keys   keyspace
}

// NewRedisChangeFeed 创建 RedisChangeFeed 实例
func NewRedisChangeFeed(client *redis.Client, keyPrefix string) *RedisChangeFeed {
	if client == nil {
		panic("redis client cannot be nil for RedisChangeFeed")
	}
	return &RedisChangeFeed{client: client, keys: newKeyspace(keyPrefix)}
}

// Publish 将事件序列化后发布到房间频道
func (f *RedisChangeFeed) Publish(ctx context.Context, event domain.RoomEvent) error {
	channel := f.keys.roomEventsChannel(event.RoomID)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal %s event for room %s: %w", event.Type, event.RoomID, err)
	}
	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payload),
			"event_type":   event.Type,
			"room_id":      event.RoomID,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe 订阅房间频道，等待 Redis 确认后返回
func (f *RedisChangeFeed) Subscribe(ctx context.Context, roomID string) (repository.FeedSubscription, error) {
	channel := f.keys.roomEventsChannel(roomID)
	pubsub := f.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to channel %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan domain.RoomEvent, 64),
		done:   make(chan struct{}),
		log:    logrus.WithFields(logrus.Fields{"channel": channel, "room_id": roomID}),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	events    chan domain.RoomEvent
	done      chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

// forward 把 Redis 消息解码后转发到 events，Close 后退出并关闭 events
func (s *redisSubscription) forward() {
	defer close(s.events)
	msgs := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event domain.RoomEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.log.WithError(err).Warn("Dropping undecodable room event")
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Events() <-chan domain.RoomEvent { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
