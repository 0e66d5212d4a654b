// Package client реализует клиентский канал clunks.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

// ErrConnectFailed — сервер недоступен при создании клиента.
var ErrConnectFailed = errors.New("connect failed")

// ErrAlreadyStarted — повторный вызов Start.
var ErrAlreadyStarted = errors.New("client already started")

// ErrNotStarted — операция требует завершённого handshake.
var ErrNotStarted = errors.New("client not started")

// Client — клиентский канал: одно TCP соединение с сервером и, после
// ChangeProtocol(UDP), UDP сокет на втором порту.
type Client struct {
	*channel.Base

	cfg        connectConfig
	bufferSize int
	strength   protocol.Strength
	tcpAddr    string
	udpAddr    *net.UDPAddr

	connMu  sync.Mutex
	session *channel.Session
	udpConn *net.UDPConn

	// sendMu разделяет отправку и смену транспорта.
	sendMu sync.Mutex
	proto  atomic.Int32

	userID  atomic.Uint32
	started atomic.Bool

	outbox *channel.Queue[protocol.Packet]
	inbox  *channel.Queue[protocol.Packet]
	live   *channel.Liveness
	loss   channel.LossMeter
}

// Connect подключается к серверу по TCP. Handshake выполняет Start.
// Если сервер недоступен, возвращает ошибку, обёрнутую в ErrConnectFailed.
func Connect(bufferSize int, serverAddress string, tcpPort, udpPort int, strength protocol.Strength, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := protocol.NewEncryptionConfig(strength); err != nil {
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(serverAddress, strconv.Itoa(udpPort)))
	if err != nil {
		return nil, fmt.Errorf("%w: resolve udp: %w", ErrConnectFailed, err)
	}

	c := &Client{
		cfg:        cfg,
		bufferSize: bufferSize,
		strength:   strength,
		tcpAddr:    net.JoinHostPort(serverAddress, strconv.Itoa(tcpPort)),
		udpAddr:    udpAddr,
		outbox:     channel.NewQueue[protocol.Packet](),
		inbox:      channel.NewQueue[protocol.Packet](),
		live:       channel.NewLiveness(cfg.maxMissed),
	}
	c.Base = channel.NewBase(c.fail)
	c.userID.Store(protocol.NullID)

	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	c.session = c.newSession(conn)

	slog.Debug("client: connected", "server", c.tcpAddr, "strength", strength)
	return c, nil
}

// Start выполняет handshake и запускает рабочие циклы.
// После исчерпания попыток закрывает канал и возвращает ошибку с ErrHandshakeFailed.
func (c *Client) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	userID, err := c.authenticate()
	if err != nil {
		c.Close(err.Error())
		return err
	}
	c.userID.Store(userID)

	slog.Info("client: handshake completed",
		"server", c.tcpAddr,
		"user_id", userID,
		"strength", c.strength,
	)

	c.Go(c.heartbeatLoop)
	c.Go(c.sendLoop)
	c.Go(c.receiveLoop)
	c.Go(c.lossLoop)
	c.Go(c.dispatchLoop)
	return nil
}

// Add ставит пакет в очередь на отправку. UserID проставляется при отправке.
func (c *Client) Add(p protocol.Packet) {
	c.outbox.Push(p)
}

// ChangeProtocol переключает транспорт исходящих пакетов.
// Ждёт завершения текущей отправки; UDP сокет открывается при первом переключении.
// До успешного Start возвращает ErrNotStarted.
func (c *Client) ChangeProtocol(p channel.Protocol) error {
	if c.Closed() {
		return channel.ErrChannelClosed
	}
	if c.UserID() == protocol.NullID {
		return ErrNotStarted
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if p == channel.UDP {
		if err := c.openUDP(); err != nil {
			return err
		}
	}

	prev := channel.Protocol(c.proto.Swap(int32(p)))
	if prev != p {
		slog.Info("client: protocol changed", "from", prev, "to", p)
	}
	return nil
}

// Close закрывает канал и сообщает причину обработчику OnFail. Идемпотентен.
func (c *Client) Close(reason string) {
	c.Dispose(reason, c.release)
}

// UserID возвращает назначенный сервером идентификатор или NullID до handshake.
func (c *Client) UserID() uint32 {
	return c.userID.Load()
}

// Protocol возвращает текущий транспорт исходящих пакетов.
func (c *Client) Protocol() channel.Protocol {
	return channel.Protocol(c.proto.Load())
}

// EncryptionConfig возвращает конфигурацию шифрования текущего соединения.
func (c *Client) EncryptionConfig() *protocol.EncryptionConfig {
	return c.tcpSession().Factory().Config()
}

// LossRatio возвращает текущую долю потерь.
func (c *Client) LossRatio() float64 {
	return c.loss.Ratio()
}

func (c *Client) tcpSession() *channel.Session {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.session
}

func (c *Client) release() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.session != nil {
		if err := c.session.Close(); err != nil {
			slog.Error("client: close tcp connection", "error", err)
		}
	}
	if c.udpConn != nil {
		if err := c.udpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Error("client: close udp socket", "error", err)
		}
	}
}

func (c *Client) fail(reason string) {
	slog.Info("client: channel closed", "server", c.tcpAddr, "reason", reason)
	if c.cfg.onFail != nil {
		c.cfg.onFail(reason)
	}
}

func (c *Client) warn(msg string, args ...any) {
	slog.Warn("client: "+msg, args...)
	if c.cfg.onWarning != nil {
		c.cfg.onWarning(msg)
	}
}

// heartbeatLoop отправляет heartbeat и закрывает канал после maxMissed пропусков подряд.
func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.heartbeatInterval)
	defer ticker.Stop()

	for {
		c.Add(protocol.NewPacket(protocol.Heartbeat, protocol.NullID))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.live.Check() {
			slog.Warn("client: heartbeat timeout", "server", c.tcpAddr, "missed", c.live.Missed())
			c.Close(channel.ErrHeartbeatTimeout.Error())
			return
		}
	}
}

func (c *Client) sendLoop(ctx context.Context) {
	for {
		p, err := c.outbox.Pop(ctx)
		if err != nil {
			return
		}

		p.UserID = c.UserID()
		if err := c.send(p); err != nil {
			if !c.Closed() {
				c.Close(fmt.Sprintf("send: %v", err))
			}
			return
		}
	}
}

func (c *Client) send(p protocol.Packet) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	proto := c.Protocol()
	if proto == channel.UDP {
		if err := c.sendUDP(p); err != nil {
			return err
		}
	} else if err := c.tcpSession().WritePacket(p); err != nil {
		return err
	}

	c.cfg.metrics.RecordPacketOut(proto.String())
	return nil
}

// sendUDP отправляет пакет одной датаграммой. Слишком большая датаграмма
// отбрасывается и учитывается как потеря.
func (c *Client) sendUDP(p protocol.Packet) error {
	frame, err := c.tcpSession().Factory().GetDataStream(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}

	if len(frame) > protocol.MaxDatagramSize {
		c.loss.Lost()
		c.cfg.metrics.RecordLoss()
		slog.Debug("client: datagram too large, dropped", "size", len(frame), "data_id", p.DataID)
		return nil
	}

	c.connMu.Lock()
	conn := c.udpConn
	c.connMu.Unlock()

	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	return nil
}

// openUDP создаёт UDP сокет и запускает его цикл приёма. Вызывается под sendMu.
func (c *Client) openUDP() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.udpConn != nil {
		return nil
	}

	conn, err := net.DialUDP("udp", nil, c.udpAddr)
	if err != nil {
		return fmt.Errorf("dial udp %s: %w", c.udpAddr, err)
	}
	c.udpConn = conn

	c.Go(func(ctx context.Context) {
		c.receiveUDPLoop(ctx, conn)
	})
	return nil
}

func (c *Client) receiveLoop(ctx context.Context) {
	s := c.tcpSession()
	for {
		p, err := s.ReadPacket()
		if err != nil {
			if c.Closed() || ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				c.Close("server closed connection")
				return
			}
			c.Close(fmt.Sprintf("receive: %v", err))
			return
		}

		c.handle(p, channel.TCP)
	}
}

// receiveUDPLoop читает датаграммы. Буфер на байт больше bufferSize:
// заполненный целиком буфер означает усечённую датаграмму.
func (c *Client) receiveUDPLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, c.bufferSize+1)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if c.Closed() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("client: udp read", "error", err)
			continue
		}

		if n > c.bufferSize {
			c.loss.Lost()
			c.cfg.metrics.RecordLoss()
			continue
		}

		p, err := c.tcpSession().Factory().BuildPacket(buf[:n])
		if err != nil {
			c.loss.Lost()
			c.cfg.metrics.RecordLoss()
			slog.Debug("client: drop undecodable datagram", "size", n, "error", err)
			continue
		}

		c.handle(p, channel.UDP)
	}
}

func (c *Client) handle(p protocol.Packet, transport channel.Protocol) {
	c.loss.Received()
	c.cfg.metrics.RecordPacketIn(transport.String())

	if p.DataID == protocol.Heartbeat {
		c.live.Beat()
		return
	}
	c.inbox.Push(p)
}

// lossLoop раз в интервал heartbeat проверяет долю потерь.
func (c *Client) lossLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ratio, warn := c.loss.Check(); warn {
			c.warn("packet loss above threshold", "ratio", ratio, "server", c.tcpAddr)
		}
	}
}

func (c *Client) dispatchLoop(ctx context.Context) {
	for {
		p, err := c.inbox.Pop(ctx)
		if err != nil {
			return
		}
		if c.cfg.onDispatch != nil {
			c.cfg.onDispatch(p)
		}
	}
}
