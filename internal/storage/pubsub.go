package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"omni/live/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "booking:"
	presencePrefix    = "presence:"
)

// PublishEvent sends ev to the other relay instances.
func (s *Service) PublishEvent(ctx context.Context, ev models.RoomEvent) error {
	if s.Redis == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.Redis.Publish(ctx, roomChannelPrefix+ev.BookingID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event for booking %s: %w", ev.BookingID, err)
	}
	return nil
}

// SubscribeEvents streams events published by any relay instance until ctx
// is done. Without Redis the channel just closes with ctx.
func (s *Service) SubscribeEvents(ctx context.Context) (<-chan models.RoomEvent, error) {
	out := make(chan models.RoomEvent)
	if s.Redis == nil {
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	}

	pubsub := s.Redis.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room events: %w", err)
	}

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, ok := decodeRoomEvent(msg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeRoomEvent(msg *redis.Message) (models.RoomEvent, bool) {
	var ev models.RoomEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return ev, false
	}
	if ev.BookingID == "" {
		ev.BookingID = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
	}
	return ev, true
}

// SetPresence records whether a role is connected to a booking.
func (s *Service) SetPresence(ctx context.Context, bookingID string, role models.Role, online bool) error {
	if s.Redis == nil {
		return nil
	}
	key := presencePrefix + bookingID
	if online {
		return s.Redis.SAdd(ctx, key, string(role)).Err()
	}
	return s.Redis.SRem(ctx, key, string(role)).Err()
}

// OnlineRoles returns the roles last announced online for a booking.
func (s *Service) OnlineRoles(ctx context.Context, bookingID string) ([]models.Role, error) {
	if s.Redis == nil {
		return nil, nil
	}
	members, err := s.Redis.SMembers(ctx, presencePrefix+bookingID).Result()
	if err != nil {
		return nil, err
	}
	roles := make([]models.Role, 0, len(members))
	for _, m := range members {
		if r := models.Role(m); r.Valid() {
			roles = append(roles, r)
		}
	}
	return roles, nil
}
