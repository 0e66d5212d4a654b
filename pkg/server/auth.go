package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/udisondev/clunks/pkg/channel"
)

// acceptLoop принимает TCP соединения.
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.tcpLis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("server: accept connection", "error", err)
			continue
		}

		if !s.acquireSlot() {
			slog.Warn("server: connection limit reached", "remote", conn.RemoteAddr())
			if err := conn.Close(); err != nil {
				slog.Error("server: close connection on limit failed", "error", err)
			}
			continue
		}

		s.Go(func(ctx context.Context) {
			s.handleConn(ctx, conn)
		})
	}
}

// handleConn проводит handshake и читает кадры клиента до разрыва.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	slog.Debug("server: new connection", "remote", remote)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	c := newClientModel(conn, &s.cfg, s.bufferSize)

	// Закрытие сервера прерывает и handshake, и чтение.
	stop := context.AfterFunc(ctx, func() { c.close() })
	defer stop()

	onSigned := func(id uint32) { s.markPending(c, id) }
	id, strength, err := channel.ServerHandshake(c.session, s.assignID, onSigned, s.cfg.handshakeTimeout)
	s.cfg.metrics.RecordHandshake(err)
	if err != nil {
		s.dropPending(c)
		c.close()
		s.releaseSlot()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			slog.Debug("server: connection closed during handshake", "remote", remote)
			return
		}
		slog.Warn("server: handshake failed", "remote", remote, "error", err)
		return
	}
	if !s.addClient(c) {
		s.dropPending(c)
		c.close()
		s.releaseSlot()
		return
	}

	slog.Info("server: client authenticated",
		"client_id", id,
		"session", c.SessionID,
		"remote", remote,
		"strength", strength,
	)

	s.readLoop(c)
}

// readLoop читает TCP кадры клиента. Любая ошибка удаляет клиента.
func (s *Server) readLoop(c *ClientModel) {
	for {
		p, err := c.session.ReadPacket()
		if err != nil {
			switch {
			case c.isClosed() || errors.Is(err, net.ErrClosed):
				s.RemoveClient(c, "connection closed")
			case errors.Is(err, io.EOF):
				slog.Debug("server: client disconnected gracefully", "client_id", c.ID)
				s.RemoveClient(c, "client disconnected")
			default:
				slog.Warn("server: read packet", "client_id", c.ID, "error", err)
				s.RemoveClient(c, "socket fault")
			}
			return
		}

		if !s.handleInbound(c, p, channel.TCP) {
			return
		}
	}
}
