package hub

import (
	"testing"

	"party-rooms/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestSubscription_ObserveDeduplicates(t *testing.T) {
	sub := NewSubscription("cheers")

	got := make([]Delivery, 0)
	for _, counter := range []uint64{3, 3, 5, 4, 7} {
		got = append(got, sub.Observe(counter))
	}

	assert.Equal(t, []Delivery{DeliveryBaseline, DeliveryStale, DeliveryFresh, DeliveryStale, DeliveryFresh}, got)
	last, primed := sub.Last()
	assert.True(t, primed)
	assert.Equal(t, uint64(7), last)
}

func TestSubscription_BaselineCanBeZero(t *testing.T) {
	sub := NewSubscription("quiz")

	_, primed := sub.Last()
	assert.False(t, primed)
	assert.Equal(t, DeliveryBaseline, sub.Observe(0), "尚未写入的状态也会确立基线")
	assert.Equal(t, DeliveryStale, sub.Observe(0))
	assert.Equal(t, DeliveryFresh, sub.Observe(1))
}

func TestSubscription_Accepts(t *testing.T) {
	sub := NewSubscription("cheers")

	assert.True(t, sub.Accepts(domain.RoomEvent{Type: domain.EventGameState, GameID: "cheers"}))
	assert.False(t, sub.Accepts(domain.RoomEvent{Type: domain.EventGameState, GameID: "quiz"}))
	assert.False(t, sub.Accepts(domain.RoomEvent{Type: domain.EventRoomClosed}))
}
