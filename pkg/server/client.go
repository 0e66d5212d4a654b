package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

// ClientModel — состояние одного клиента на сервере.
type ClientModel struct {
	// ID назначается на шаге 6 handshake.
	ID uint32
	// SessionID различает соединения в логах.
	SessionID   uuid.UUID
	Remote      net.Addr
	ConnectedAt time.Time

	session  *channel.Session
	remoteIP net.IP
	endpoint atomic.Pointer[net.UDPAddr]
	proto    atomic.Int32
	isAdmin  atomic.Bool

	// admitMu защищает admitted и backlog: датаграммы, пришедшие между
	// шагами 8 и 9 handshake, ждут завершения handshake.
	admitMu  sync.Mutex
	admitted bool
	backlog  []protocol.Packet

	live *channel.Liveness
	// limiter ограничивает входящие пакеты; nil без ограничения.
	limiter *rate.Limiter

	closeOnce sync.Once
	closed    atomic.Bool
}

func newClientModel(conn net.Conn, cfg *serverConfig, bufferSize int) *ClientModel {
	encCfg, _ := protocol.NewEncryptionConfig(protocol.None)
	session := channel.NewSession(conn, protocol.NewPacketFactory(encCfg), bufferSize, cfg.maxFrameSize)
	session.SetWriteTimeout(cfg.writeTimeout)

	c := &ClientModel{
		SessionID:   uuid.New(),
		Remote:      conn.RemoteAddr(),
		ConnectedAt: time.Now(),
		session:     session,
		live:        channel.NewLiveness(cfg.maxMissed),
	}
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		c.remoteIP = tcpAddr.IP
	}
	if cfg.rateLimitPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.rateLimitPerSec), max(cfg.rateLimitBurst, 1))
	}
	return c
}

// Protocol возвращает транспорт последнего принятого от клиента кадра.
func (c *ClientModel) Protocol() channel.Protocol {
	return channel.Protocol(c.proto.Load())
}

// Endpoint возвращает UDP адрес клиента или nil, пока UDP не использовался.
func (c *ClientModel) Endpoint() *net.UDPAddr {
	return c.endpoint.Load()
}

// IsAdmin сообщает, отмечен ли клиент администратором.
func (c *ClientModel) IsAdmin() bool {
	return c.isAdmin.Load()
}

// SetAdmin отмечает клиента администратором.
func (c *ClientModel) SetAdmin(v bool) {
	c.isAdmin.Store(v)
}

// EncryptionConfig возвращает конфигурацию шифрования соединения.
func (c *ClientModel) EncryptionConfig() *protocol.EncryptionConfig {
	return c.session.Factory().Config()
}

// MissedHeartbeats возвращает число пропущенных heartbeat подряд.
func (c *ClientModel) MissedHeartbeats() int {
	return c.live.Missed()
}

func (c *ClientModel) factory() *protocol.PacketFactory {
	return c.session.Factory()
}

// allowPacket проверяет лимит входящих пакетов.
func (c *ClientModel) allowPacket() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *ClientModel) isClosed() bool {
	return c.closed.Load()
}

// close закрывает соединение. Возвращает true при первом вызове.
func (c *ClientModel) close() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closed.Store(true)
		_ = c.session.Close()
	})
	return first
}
