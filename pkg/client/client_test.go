package client

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

const testBufferSize = 8192

// fakeServer принимает соединения и передаёт каждое в handle.
func fakeServer(t *testing.T, handle func(conn net.Conn)) (accepted *atomic.Int32, port int) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lis.Close() })

	accepted = &atomic.Int32{}
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	return accepted, lis.Addr().(*net.TCPAddr).Port
}

func serverSession(conn net.Conn) *channel.Session {
	cfg, _ := protocol.NewEncryptionConfig(protocol.None)
	return channel.NewSession(conn, protocol.NewPacketFactory(cfg), testBufferSize, 0)
}

func TestConnectFailed(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	_, err = Connect(testBufferSize, "127.0.0.1", port, port, protocol.Light, WithDialTimeout(time.Second))
	require.ErrorIs(t, err, ErrConnectFailed)
}

func TestConnectUnknownStrength(t *testing.T) {
	_, err := Connect(testBufferSize, "127.0.0.1", 1, 1, protocol.Strength(99))
	require.ErrorIs(t, err, protocol.ErrUnknownStrength)
}

func TestHandshakeRetriesThenFails(t *testing.T) {
	// Сервер обрывает каждое соединение сразу после Hello.
	accepted, port := fakeServer(t, func(conn net.Conn) {
		_, _ = serverSession(conn).ReadPacket()
	})

	var fails atomic.Int32
	reason := make(chan string, 1)
	c, err := Connect(testBufferSize, "127.0.0.1", port, port, protocol.None,
		WithHandshakeAttempts(3),
		WithOnFail(func(r string) {
			fails.Add(1)
			reason <- r
		}),
	)
	require.NoError(t, err)

	err = c.Start()
	require.ErrorIs(t, err, protocol.ErrHandshakeFailed)
	require.True(t, c.Closed())
	require.Equal(t, int32(3), accepted.Load(), "each attempt uses a fresh connection")
	require.Equal(t, int32(1), fails.Load())
	require.NotEmpty(t, <-reason)

	require.ErrorIs(t, c.Start(), ErrAlreadyStarted)
	c.Wait()
}

func TestHandshakeRetrySucceeds(t *testing.T) {
	var attempt atomic.Int32
	_, port := fakeServer(t, func(conn net.Conn) {
		s := serverSession(conn)
		if attempt.Add(1) == 1 {
			_, _ = s.ReadPacket()
			return
		}
		if _, _, err := channel.ServerHandshake(s, func() uint32 { return 9 }, nil, 5*time.Second); err != nil {
			return
		}
		// Держим соединение до закрытия клиентом.
		for {
			if _, err := s.ReadPacket(); err != nil {
				return
			}
		}
	})

	c, err := Connect(testBufferSize, "127.0.0.1", port, port, protocol.Light)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close("test done")
		c.Wait()
	})

	require.NoError(t, c.Start())
	require.Equal(t, uint32(9), c.UserID())
	require.True(t, c.EncryptionConfig().UseCrypto)
}

func TestHeartbeatTimeoutClosesClient(t *testing.T) {
	// Сервер проходит handshake и не отвечает на heartbeat.
	_, port := fakeServer(t, func(conn net.Conn) {
		s := serverSession(conn)
		if _, _, err := channel.ServerHandshake(s, func() uint32 { return 2 }, nil, 5*time.Second); err != nil {
			return
		}
		for {
			if _, err := s.ReadPacket(); err != nil {
				return
			}
		}
	})

	reason := make(chan string, 1)
	c, err := Connect(testBufferSize, "127.0.0.1", port, port, protocol.None,
		WithHeartbeatInterval(30*time.Millisecond),
		WithOnFail(func(r string) { reason <- r }),
	)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	select {
	case r := <-reason:
		require.Equal(t, channel.ErrHeartbeatTimeout.Error(), r)
	case <-time.After(5 * time.Second):
		t.Fatal("client ignored missing heartbeats")
	}
	c.Wait()
}

func TestDispatchOrderAndHeartbeatFiltering(t *testing.T) {
	const n = 50

	_, port := fakeServer(t, func(conn net.Conn) {
		s := serverSession(conn)
		id, _, err := channel.ServerHandshake(s, func() uint32 { return 5 }, nil, 5*time.Second)
		if err != nil {
			return
		}
		for i := range n {
			_ = s.WritePacket(protocol.NewPacket(protocol.Heartbeat, id))
			_ = s.WritePacket(protocol.NewPacket(protocol.Info, id, string(rune('A'+i%26))))
		}
		for {
			if _, err := s.ReadPacket(); err != nil {
				return
			}
		}
	})

	got := make(chan protocol.Packet, n)
	c, err := Connect(testBufferSize, "127.0.0.1", port, port, protocol.Light,
		WithOnDispatch(func(p protocol.Packet) { got <- p }),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close("test done")
		c.Wait()
	})
	require.NoError(t, c.Start())

	for i := range n {
		select {
		case p := <-got:
			require.Equal(t, protocol.Info, p.DataID)
			require.Equal(t, string(rune('A'+i%26)), p.Field(0))
		case <-time.After(5 * time.Second):
			t.Fatalf("packet %d not dispatched", i)
		}
	}
}

func TestCloseIdempotent(t *testing.T) {
	_, port := fakeServer(t, func(conn net.Conn) {
		_, _ = serverSession(conn).ReadPacket()
	})

	var fails atomic.Int32
	c, err := Connect(testBufferSize, "127.0.0.1", port, port, protocol.None,
		WithOnFail(func(string) { fails.Add(1) }),
	)
	require.NoError(t, err)

	c.Close("first")
	c.Close("second")
	require.Equal(t, int32(1), fails.Load())
	require.Equal(t, "first", c.Reason())
	require.ErrorIs(t, c.ChangeProtocol(channel.UDP), channel.ErrChannelClosed)
}

func TestChangeProtocolBeforeStart(t *testing.T) {
	_, port := fakeServer(t, func(conn net.Conn) {
		s := serverSession(conn)
		if _, _, err := channel.ServerHandshake(s, func() uint32 { return 9 }, nil, 5*time.Second); err != nil {
			return
		}
		for {
			if _, err := s.ReadPacket(); err != nil {
				return
			}
		}
	})

	c, err := Connect(testBufferSize, "127.0.0.1", port, port, protocol.Light)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close("test done")
		c.Wait()
	})

	// До handshake UDP сокет не открывается.
	require.ErrorIs(t, c.ChangeProtocol(channel.UDP), ErrNotStarted)
	require.Equal(t, channel.TCP, c.Protocol())
	c.connMu.Lock()
	require.Nil(t, c.udpConn)
	c.connMu.Unlock()

	require.NoError(t, c.Start())
	require.NoError(t, c.ChangeProtocol(channel.UDP))
	require.Equal(t, channel.UDP, c.Protocol())
}
