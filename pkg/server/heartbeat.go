package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

// heartbeatLoop раз в интервал проверяет живость каждого клиента и отправляет heartbeat.
// Клиент без heartbeat maxMissed интервалов подряд удаляется.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, c := range s.Clients() {
			if !c.live.Check() {
				slog.Warn("server: heartbeat timeout", "client_id", c.ID, "missed", c.live.Missed())
				s.RemoveClient(c, channel.ErrHeartbeatTimeout.Error())
				continue
			}
			s.Add(protocol.NewPacket(protocol.Heartbeat, c.ID), c)
		}
	}
}
