package broker

import (
	"log/slog"
	"sync/atomic"

	"github.com/udisondev/clunks/pkg/protocol"
	"github.com/udisondev/clunks/pkg/server"
)

// StatusAdmin — ответ хранилища на Login, дающий клиенту права администратора.
// Клиент получает вместо него StatusSuccess.
const StatusAdmin = "admin"

// Bridge пересылает Command и Login клиентов сервера в хранилище
// и отвечает клиенту пакетом Status.
type Bridge struct {
	requester *Requester
	srv       atomic.Pointer[server.Server]
}

// NewBridge создаёт мост. Сервер подключается через Attach после Listen.
func NewBridge(r *Requester) *Bridge {
	return &Bridge{requester: r}
}

// Attach задаёт сервер, через который уходят ответы.
func (b *Bridge) Attach(s *server.Server) {
	b.srv.Store(s)
}

// Dispatch — обработчик для server.WithOnDispatch.
func (b *Bridge) Dispatch(p protocol.Packet, c *server.ClientModel) {
	srv := b.srv.Load()
	if srv == nil {
		slog.Warn("bridge: server not attached, packet dropped", "data_id", p.DataID, "client_id", c.ID)
		return
	}

	switch p.DataID {
	case protocol.Command, protocol.Login:
	default:
		slog.Debug("bridge: packet ignored", "data_id", p.DataID, "client_id", c.ID)
		return
	}

	req := Request{
		DataID:    p.DataID,
		UserID:    c.ID,
		SessionID: c.SessionID.String(),
		IsAdmin:   c.IsAdmin(),
		Body:      p.Body,
	}

	b.requester.Forward(srv.Context(), req, func(status string) {
		if p.DataID == protocol.Login && status == StatusAdmin {
			c.SetAdmin(true)
			status = protocol.StatusSuccess
		}
		srv.Add(protocol.NewPacket(protocol.Status, c.ID, status), c)
	})
}

