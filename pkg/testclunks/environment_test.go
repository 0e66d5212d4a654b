package testclunks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/clunks/pkg/broker"
	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
	"github.com/udisondev/clunks/pkg/testclunks"
)

func TestEnvironment_Start(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env, err := testclunks.Start(ctx)
	require.NoError(t, err, "Start должен успешно завершиться")
	require.NotEmpty(t, env.NATSUrl, "NATSUrl должен быть заполнен")
	require.NotNil(t, env.Server.TCPAddr())
	require.NotNil(t, env.Server.UDPAddr())

	err = env.Close(ctx)
	require.NoError(t, err, "Close должен успешно завершиться")
}

func TestEnvironment_CommandRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env, err := testclunks.Start(ctx)
	require.NoError(t, err)
	defer env.Close(ctx)

	got := make(chan broker.Request, 1)
	_, err = env.Respond(protocol.Command, func(r broker.Request) string {
		got <- r
		return "room joined"
	})
	require.NoError(t, err)

	c, err := env.NewClient(protocol.Medium)
	require.NoError(t, err)
	defer c.Close("test done")

	c.Send(protocol.Command, "join", "lobby")

	req := waitRequest(t, got, 10*time.Second)
	require.Equal(t, protocol.Command, req.DataID)
	require.Equal(t, c.UserID(), req.UserID)
	require.Equal(t, []string{"join", "lobby"}, req.Body)
	require.NotEmpty(t, req.SessionID)

	p := waitPacket(t, c.Recv(), 10*time.Second)
	require.Equal(t, protocol.Status, p.DataID)
	require.Equal(t, "room joined", p.Field(0))
}

func TestEnvironment_LoginOverUDP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env, err := testclunks.Start(ctx)
	require.NoError(t, err)
	defer env.Close(ctx)

	_, err = env.Respond(protocol.Login, func(r broker.Request) string {
		if r.Field(0) == "root" && r.Field(1) == "toor" {
			return broker.StatusAdmin
		}
		return protocol.StatusFailure
	})
	require.NoError(t, err)

	c, err := env.NewClient(protocol.Light)
	require.NoError(t, err)
	defer c.Close("test done")
	require.NoError(t, c.ChangeProtocol(channel.UDP))

	c.Send(protocol.Login, "root", "toor")

	p := waitPacket(t, c.Recv(), 10*time.Second)
	require.Equal(t, protocol.Status, p.DataID)
	require.Equal(t, protocol.StatusSuccess, p.Field(0))

	sc, ok := env.Server.Client(c.UserID())
	require.True(t, ok)
	require.True(t, sc.IsAdmin())
}

func TestEnvironment_NoResponder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	env, err := testclunks.Start(ctx, testclunks.WithRequestTimeout(500*time.Millisecond))
	require.NoError(t, err)
	defer env.Close(ctx)

	c, err := env.NewClient(protocol.None)
	require.NoError(t, err)
	defer c.Close("test done")

	c.Send(protocol.Command, "ping")

	p := waitPacket(t, c.Recv(), 10*time.Second)
	require.Equal(t, protocol.Status, p.DataID)
	require.Equal(t, protocol.StatusFailure, p.Field(0))
}

// waitPacket ожидает пакет из канала с таймаутом.
func waitPacket(t *testing.T, ch <-chan protocol.Packet, timeout time.Duration) protocol.Packet {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(timeout):
		t.Fatal("timeout waiting for packet")
		return protocol.Packet{}
	}
}

func waitRequest(t *testing.T, ch <-chan broker.Request, timeout time.Duration) broker.Request {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(timeout):
		t.Fatal("timeout waiting for request")
		return broker.Request{}
	}
}
