package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/SelinCifcii/decision-wheel/internal/domain"
)

// Redis is the slice of the redis client the publisher needs.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher relays registry broadcasts onto a redis pub/sub channel per
// room. Redis preserves publish order per channel, and the registry calls
// the publisher while holding the room lock, so subscribers observe
// mutations in application order.
type Publisher struct {
	redis  Redis
	prefix string
}

type PublisherConfig struct {
	Redis  Redis
	Prefix string
}

func NewPublisher(c PublisherConfig) *Publisher {
	return &Publisher{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

func (p *Publisher) RoomJoined(ctx context.Context, code string, room *domain.Room) error {
	participants := make([]string, 0, len(room.Participants))
	for _, m := range room.Participants {
		participants = append(participants, m.Name)
	}

	return p.publish(ctx, code, MsgTypeRoomJoined, RoomJoinedPayload{
		Participants: participants,
		Options:      OptionsToWire(room.Options),
	})
}

func (p *Publisher) OptionAdded(ctx context.Context, code string, options []domain.Option) error {
	return p.publish(ctx, code, MsgTypeOptionAdded, OptionAddedPayload{
		Options: OptionsToWire(options),
	})
}

func (p *Publisher) SelectionResult(ctx context.Context, code string, outcome domain.SelectionOutcome) error {
	return p.publish(ctx, code, MsgTypeSelectionResult, SelectionResultPayload{
		Option: OptionPayload{
			Username: outcome.Winning.ProposedBy,
			Text:     outcome.Winning.Text,
		},
	})
}

func (p *Publisher) publish(ctx context.Context, code, msgType string, payload any) error {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("api: marshal %s envelope: %w", msgType, err)
	}

	return p.redis.Publish(ctx, RoomChannel(p.prefix, code), b).Err()
}

// RoomChannel names the pub/sub channel carrying a room's broadcasts.
func RoomChannel(prefix, code string) string {
	return fmt.Sprintf("%s:room:%s", prefix, code)
}

// RoomChannelPattern matches every room channel under the prefix.
func RoomChannelPattern(prefix string) string {
	return fmt.Sprintf("%s:room:*", prefix)
}

// CodeFromChannel recovers the room code from a channel name.
func CodeFromChannel(prefix, channel string) string {
	head := fmt.Sprintf("%s:room:", prefix)
	if len(channel) <= len(head) {
		return ""
	}
	return channel[len(head):]
}
