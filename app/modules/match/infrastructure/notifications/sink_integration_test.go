//go:build integration

package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Black-And-White-Club/race-league/app/modules/match/infrastructure/notifications"
	"github.com/Black-And-White-Club/race-league/app/shared/natsconn"
)

func setupNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcnats.Run(ctx, "nats:2.10-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("Server is ready"),
				wait.ForListeningPort("4222/tcp"),
			).WithDeadline(45*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

// fakeBot answers every sink request the way the chat bot does.
func fakeBot(t *testing.T, conn *nats.Conn, seen chan<- *nats.Msg) {
	t.Helper()
	sub, err := conn.Subscribe("league.bot.>", func(msg *nats.Msg) {
		seen <- msg
		reply := map[string]any{"ok": true}
		switch msg.Subject {
		case "league.bot.channel.create":
			reply["channel_ref"] = "channel-42"
		case "league.bot.channel.delete":
			reply = map[string]any{"ok": false, "error": "unknown channel"}
		}
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	require.NoError(t, conn.Flush())
}

func TestNATSSink_RoundTrip(t *testing.T) {
	url := setupNATS(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	botConn, err := natsconn.Connect(natsconn.Config{URL: url, Name: "bot"}, logger)
	require.NoError(t, err)
	t.Cleanup(botConn.Close)
	seen := make(chan *nats.Msg, 10)
	fakeBot(t, botConn, seen)

	conn, err := natsconn.Connect(natsconn.Config{URL: url}, logger)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	sink := notifications.NewNATSSink(conn, notifications.Config{RequestTimeout: 2 * time.Second}, logger)
	ctx := context.Background()
	matchID := uuid.New()

	ref := sink.CreateChannel(ctx, notifications.ChannelParams{MatchID: matchID, Name: "match-1"})
	assert.Equal(t, "channel-42", ref)
	msg := <-seen
	assert.Equal(t, "league.bot.channel.create", msg.Subject)
	assert.Contains(t, string(msg.Data), matchID.String())

	assert.True(t, sink.PostPasscode(ctx, ref, notifications.PasscodePost{}))
	msg = <-seen
	assert.Equal(t, "league.bot.post.passcode", msg.Subject)
	assert.Contains(t, string(msg.Data), `"channel_ref":"channel-42"`)

	assert.False(t, sink.DeleteChannel(ctx, ref), "a rejected request reports false")
}

func TestNATSSink_NoBotTimesOut(t *testing.T) {
	url := setupNATS(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	conn, err := natsconn.Connect(natsconn.Config{URL: url}, logger)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	sink := notifications.NewNATSSink(conn, notifications.Config{RequestTimeout: 200 * time.Millisecond}, logger)
	assert.Empty(t, sink.CreateChannel(context.Background(), notifications.ChannelParams{MatchID: uuid.New()}))
}
