package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SelinCifcii/decision-wheel/internal/api"
	"github.com/SelinCifcii/decision-wheel/internal/domain"
)

func TestPublisher_PublishesEnvelopesInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rc := makeRedis(t)
	sub := rc.PSubscribe(ctx, api.RoomChannelPattern("test"))
	t.Cleanup(func() { sub.Close() })

	// Wait for the subscription to be established.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := api.NewPublisher(api.PublisherConfig{Redis: rc, Prefix: "test"})

	room := &domain.Room{
		Code:         "AB12CD",
		Participants: []domain.Participant{{Name: "ayse"}},
	}
	require.NoError(t, p.RoomJoined(ctx, "AB12CD", room))
	require.NoError(t, p.OptionAdded(ctx, "AB12CD", []domain.Option{{Text: "Pizza", ProposedBy: "ayse"}}))
	require.NoError(t, p.SelectionResult(ctx, "AB12CD", domain.SelectionOutcome{
		Winning: domain.Option{Text: "Pizza", ProposedBy: "ayse"},
	}))

	var got []api.Envelope
	for i := 0; i < 3; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		assert.Equal(t, api.RoomChannel("test", "AB12CD"), msg.Channel)

		var env api.Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		got = append(got, env)
	}

	require.Len(t, got, 3)
	assert.Equal(t, api.MsgTypeRoomJoined, got[0].Type)
	assert.Equal(t, api.MsgTypeOptionAdded, got[1].Type)
	assert.Equal(t, api.MsgTypeSelectionResult, got[2].Type)

	var joined api.RoomJoinedPayload
	require.NoError(t, json.Unmarshal(got[0].Payload, &joined))
	assert.Equal(t, []string{"ayse"}, joined.Participants)
	assert.Empty(t, joined.Options)

	var added api.OptionAddedPayload
	require.NoError(t, json.Unmarshal(got[1].Payload, &added))
	assert.Equal(t, []api.OptionPayload{{Username: "ayse", Text: "Pizza"}}, added.Options)

	var selected api.SelectionResultPayload
	require.NoError(t, json.Unmarshal(got[2].Payload, &selected))
	assert.Equal(t, api.OptionPayload{Username: "ayse", Text: "Pizza"}, selected.Option)
}

func TestCodeFromChannel(t *testing.T) {
	assert.Equal(t, "AB12CD", api.CodeFromChannel("wheel", api.RoomChannel("wheel", "AB12CD")))
	assert.Equal(t, "", api.CodeFromChannel("wheel", "wheel:room:"))
}

func makeRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return rc
}
