package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

// handleInbound учитывает принятый пакет. Возвращает false, если клиент удалён.
func (s *Server) handleInbound(c *ClientModel, p protocol.Packet, transport channel.Protocol) bool {
	if !c.allowPacket() {
		slog.Warn("server: rate limit exceeded, disconnecting client", "client_id", c.ID)
		s.RemoveClient(c, "rate limit exceeded")
		return false
	}

	c.proto.Store(int32(transport))
	s.cfg.metrics.RecordPacketIn(transport.String())

	if p.DataID == protocol.Heartbeat {
		c.live.Beat()
		return true
	}

	s.inbox.Push(envelope{packet: p, client: c})
	return true
}

// receiveUDPLoop читает общий UDP сокет и распределяет датаграммы по клиентам.
// Буфер на байт больше bufferSize: заполненный целиком буфер означает усечённую датаграмму.
func (s *Server) receiveUDPLoop(ctx context.Context) {
	buf := make([]byte, s.bufferSize+1)

	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("server: udp read", "error", err)
			continue
		}

		if n > s.bufferSize {
			s.cfg.metrics.RecordLoss()
			slog.Debug("server: datagram truncated", "remote", addr, "buffer_size", s.bufferSize)
			continue
		}

		c, p, ok := s.demux(addr, buf[:n])
		if !ok {
			s.cfg.metrics.RecordLoss()
			slog.Debug("server: datagram from unknown endpoint", "remote", addr, "size", n)
			continue
		}

		s.deliverUDP(c, p)
	}
}

// demux находит клиента датаграммы: сначала по привязанному адресу, затем среди
// клиентов с тем же IP, чьи ключи расшифровывают датаграмму и чей ID совпадает с UserID.
func (s *Server) demux(addr *net.UDPAddr, data []byte) (*ClientModel, protocol.Packet, bool) {
	key := addr.String()

	s.mu.RLock()
	bound := s.endpoints[key]
	s.mu.RUnlock()

	if bound != nil {
		p, err := bound.factory().BuildPacket(data)
		if err != nil || p.UserID != bound.ID {
			return nil, protocol.Packet{}, false
		}
		return bound, p, true
	}

	for _, c := range s.candidates() {
		if c.remoteIP != nil && !c.remoteIP.Equal(addr.IP) {
			continue
		}
		p, err := c.factory().BuildPacket(data)
		if err != nil || p.UserID != c.ID {
			continue
		}
		s.bindEndpoint(c, addr)
		return c, p, true
	}
	return nil, protocol.Packet{}, false
}

// maxBacklog ограничивает датаграммы, ожидающие завершения handshake.
const maxBacklog = 64

// deliverUDP передаёт датаграмму клиенту. До завершения handshake она откладывается.
// Вызывается только из receiveUDPLoop, поэтому порядок датаграмм сохраняется.
func (s *Server) deliverUDP(c *ClientModel, p protocol.Packet) {
	c.admitMu.Lock()
	if !c.admitted {
		if len(c.backlog) < maxBacklog {
			c.backlog = append(c.backlog, p)
		} else {
			s.cfg.metrics.RecordLoss()
		}
		c.admitMu.Unlock()
		return
	}
	c.admitMu.Unlock()

	s.handleInbound(c, p, channel.UDP)
}

func (s *Server) bindEndpoint(c *ClientModel, addr *net.UDPAddr) {
	ep := &net.UDPAddr{IP: append(net.IP(nil), addr.IP...), Port: addr.Port, Zone: addr.Zone}

	s.mu.Lock()
	if old := c.Endpoint(); old != nil && s.endpoints[old.String()] == c {
		delete(s.endpoints, old.String())
	}
	if s.clients[c.ID] == c || s.pending[c.ID] == c {
		s.endpoints[ep.String()] = c
	}
	s.mu.Unlock()

	c.endpoint.Store(ep)
	slog.Debug("server: udp endpoint bound", "client_id", c.ID, "endpoint", ep)
}

func (s *Server) sendLoop(ctx context.Context) {
	for {
		e, err := s.outbox.Pop(ctx)
		if err != nil {
			return
		}
		s.sendTo(e.client, e.packet)
	}
}

// sendTo отправляет пакет по транспорту, которым клиент пользовался последним.
func (s *Server) sendTo(c *ClientModel, p protocol.Packet) {
	if c.isClosed() {
		return
	}
	p.UserID = c.ID

	transport := c.Protocol()
	ep := c.Endpoint()
	if transport == channel.UDP && ep != nil {
		if err := s.sendUDP(c, ep, p); err != nil {
			slog.Warn("server: send datagram", "client_id", c.ID, "error", err)
			s.RemoveClient(c, "socket fault")
			return
		}
	} else {
		transport = channel.TCP
		if err := c.session.WritePacket(p); err != nil {
			if !c.isClosed() {
				slog.Warn("server: write packet", "client_id", c.ID, "error", err)
			}
			s.RemoveClient(c, "socket fault")
			return
		}
	}

	s.cfg.metrics.RecordPacketOut(transport.String())
}

func (s *Server) sendUDP(c *ClientModel, ep *net.UDPAddr, p protocol.Packet) error {
	frame, err := c.factory().GetDataStream(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	if len(frame) > protocol.MaxDatagramSize {
		s.cfg.metrics.RecordLoss()
		slog.Debug("server: datagram too large, dropped", "client_id", c.ID, "size", len(frame))
		return nil
	}
	if _, err := s.udpConn.WriteToUDP(frame, ep); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	return nil
}

func (s *Server) dispatchLoop(ctx context.Context) {
	for {
		e, err := s.inbox.Pop(ctx)
		if err != nil {
			return
		}
		if e.client.isClosed() {
			continue
		}
		if s.cfg.onDispatch != nil {
			s.cfg.onDispatch(e.packet, e.client)
		}
	}
}
