//go:build integration_test

package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SelinCifcii/decision-wheel/internal/domain"
	"github.com/SelinCifcii/decision-wheel/internal/session"
)

// Runs against a live server: CONFIG_PATH=... go run ./cmd with redis on
// localhost:6379, then go test -tags integration_test ./test/demo.
const wsURL = "ws://localhost:8080/ws"

func TestWheel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	creator := makeSession(t)
	guest := makeSession(t)

	require.NoError(t, creator.Connect(ctx))
	require.NoError(t, guest.Connect(ctx))

	// Creator opens a room and shares the code out of band.
	code, err := creator.CreateRoom(ctx, "ayse")
	require.NoError(t, err)
	t.Logf("Room code: %s", code)

	waitForState(t, creator, session.StateInRoom)

	require.NoError(t, guest.JoinRoom(ctx, code, "mehmet"))
	waitForState(t, guest, session.StateInRoom)

	// Both devices converge on the membership snapshot.
	require.Eventually(t, func() bool {
		return len(creator.Participants()) == 2
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, creator.Participants(), guest.Participants())

	// Each side proposes, both caches converge on the same sequence.
	require.NoError(t, creator.ProposeOption(ctx, "Pizza"))
	require.NoError(t, guest.ProposeOption(ctx, "Tacos"))

	require.Eventually(t, func() bool {
		return len(creator.Options()) == 2 && len(guest.Options()) == 2
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, creator.Options(), guest.Options())

	// The guest spins; everyone, the spinner included, receives the same
	// outcome through the broadcast.
	outcome, err := guest.Spin(ctx)
	require.NoError(t, err)
	t.Logf("Winner: %s (proposed by %s)", outcome.Winning.Text, outcome.Winning.ProposedBy)

	require.Eventually(t, func() bool {
		return creator.LastOutcome() != nil && guest.LastOutcome() != nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, outcome.Winning, creator.LastOutcome().Winning)
	assert.Equal(t, outcome.Winning, guest.LastOutcome().Winning)

	// Leaving shrinks the snapshot on the remaining device.
	require.NoError(t, guest.Close())
	require.Eventually(t, func() bool {
		return len(creator.Participants()) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []domain.Participant{{Name: "ayse"}}, creator.Participants())
}

func makeSession(t *testing.T) *session.Client {
	c := session.NewClient(session.Config{
		Transport: session.NewWebsocketTransport(wsURL),
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForState(t *testing.T, c *session.Client, want session.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, 5*time.Second, 50*time.Millisecond)
}
