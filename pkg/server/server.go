// Package server реализует серверный канал clunks: приём TCP соединений,
// handshake для каждого клиента и обмен по TCP или общему UDP сокету.
package server

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

// ErrAlreadyStarted — повторный вызов Start.
var ErrAlreadyStarted = errors.New("server already started")

type envelope struct {
	packet protocol.Packet
	client *ClientModel
}

// Server — серверный канал.
type Server struct {
	*channel.Base

	cfg        serverConfig
	bufferSize int

	tcpLis  *net.TCPListener
	udpConn *net.UDPConn

	// mu защищает живой набор клиентов и привязку UDP адресов.
	mu        sync.RWMutex
	clients   map[uint32]*ClientModel
	pending   map[uint32]*ClientModel
	endpoints map[string]*ClientModel

	nextID  atomic.Uint32
	started atomic.Bool

	// connSem ограничивает число соединений; nil без ограничения.
	connSem chan struct{}

	outbox *channel.Queue[envelope]
	inbox  *channel.Queue[envelope]
}

// Listen открывает TCP и UDP сокеты на bindAddress. Порт 0 — выбор системой.
func Listen(bufferSize int, bindAddress string, tcpPort, udpPort int, opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(bindAddress, strconv.Itoa(tcpPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve tcp: %w", err)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(bindAddress, strconv.Itoa(udpPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve udp: %w", err)
	}

	tcpLis, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		_ = tcpLis.Close()
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		bufferSize: bufferSize,
		tcpLis:     tcpLis,
		udpConn:    udpConn,
		clients:    make(map[uint32]*ClientModel),
		pending:    make(map[uint32]*ClientModel),
		endpoints:  make(map[string]*ClientModel),
		outbox:     channel.NewQueue[envelope](),
		inbox:      channel.NewQueue[envelope](),
	}
	s.Base = channel.NewBase(s.fail)
	s.nextID.Store(protocol.NullID)
	if cfg.maxClients > 0 {
		s.connSem = make(chan struct{}, cfg.maxClients)
	}

	return s, nil
}

// Start запускает циклы приёма соединений, heartbeat, UDP приёма, отправки и диспетчеризации.
func (s *Server) Start() error {
	if s.Closed() {
		return channel.ErrChannelClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	slog.Info("server started",
		"tcp", s.tcpLis.Addr().String(),
		"udp", s.udpConn.LocalAddr().String(),
	)
	slog.Info("server: configuration",
		"buffer_size", s.bufferSize,
		"max_clients", s.cfg.maxClients,
		"heartbeat_interval", s.cfg.heartbeatInterval,
		"max_missed_heartbeats", s.cfg.maxMissed,
		"rate_limit_per_sec", s.cfg.rateLimitPerSec,
		"rate_limit_burst", s.cfg.rateLimitBurst,
		"handshake_timeout", s.cfg.handshakeTimeout,
	)

	s.Go(s.acceptLoop)
	s.Go(s.heartbeatLoop)
	s.Go(s.receiveUDPLoop)
	s.Go(s.sendLoop)
	s.Go(s.dispatchLoop)
	return nil
}

// Serve запускает сервер и блокируется до отмены ctx или закрытия сервера.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		s.Close("shutdown")
	case <-s.Done():
	}
	s.Wait()
	return nil
}

// Close закрывает сокеты и всех клиентов. Идемпотентен.
func (s *Server) Close(reason string) {
	s.Dispose(reason, s.release)
}

// TCPAddr возвращает адрес TCP сокета.
func (s *Server) TCPAddr() *net.TCPAddr {
	return s.tcpLis.Addr().(*net.TCPAddr)
}

// UDPAddr возвращает адрес UDP сокета.
func (s *Server) UDPAddr() *net.UDPAddr {
	return s.udpConn.LocalAddr().(*net.UDPAddr)
}

// Add ставит пакет для клиента в очередь отправки.
func (s *Server) Add(p protocol.Packet, c *ClientModel) {
	if c == nil {
		return
	}
	s.outbox.Push(envelope{packet: p, client: c})
}

// Broadcast ставит пакет в очередь для всех живых клиентов.
func (s *Server) Broadcast(p protocol.Packet) {
	for _, c := range s.Clients() {
		s.Add(p, c)
	}
}

// Clients возвращает снимок живого набора, упорядоченный по ID.
func (s *Server) Clients() []*ClientModel {
	s.mu.RLock()
	out := make([]*ClientModel, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *ClientModel) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Client возвращает клиента по ID.
func (s *Server) Client(id uint32) (*ClientModel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	return c, ok
}

// Disconnect удаляет клиента по ID. Возвращает false, если клиента нет.
func (s *Server) Disconnect(id uint32) bool {
	c, ok := s.Client(id)
	if !ok {
		return false
	}
	return s.RemoveClient(c, "disconnected by server")
}

// RemoveClient удаляет клиента из живого набора и закрывает его соединение.
// Возвращает true, если этот вызов выполнил удаление: уведомления срабатывают один раз.
func (s *Server) RemoveClient(c *ClientModel, reason string) bool {
	s.mu.Lock()
	live := false
	if cur, ok := s.clients[c.ID]; ok && cur == c {
		delete(s.clients, c.ID)
		live = true
	}
	if ep := c.Endpoint(); ep != nil && s.endpoints[ep.String()] == c {
		delete(s.endpoints, ep.String())
	}
	s.mu.Unlock()

	c.close()
	if !live {
		return false
	}

	s.releaseSlot()
	s.cfg.metrics.RecordClientRemoved(reason, time.Since(c.ConnectedAt))
	slog.Info("server: client removed",
		"client_id", c.ID,
		"session", c.SessionID,
		"remote", c.Remote,
		"reason", reason,
	)
	if s.cfg.onClientRemoved != nil {
		s.cfg.onClientRemoved(c, reason)
	}
	return true
}

// markPending делает клиента видимым для UDP demux после шага 8 handshake.
func (s *Server) markPending(c *ClientModel, id uint32) {
	s.mu.Lock()
	c.ID = id
	s.pending[id] = c
	s.mu.Unlock()
}

// dropPending убирает клиента, не завершившего handshake. Отложенные датаграммы
// считаются потерянными.
func (s *Server) dropPending(c *ClientModel) {
	s.mu.Lock()
	if s.pending[c.ID] == c {
		delete(s.pending, c.ID)
	}
	if ep := c.Endpoint(); ep != nil && s.endpoints[ep.String()] == c {
		delete(s.endpoints, ep.String())
	}
	s.mu.Unlock()

	c.admitMu.Lock()
	lost := len(c.backlog)
	c.backlog = nil
	c.admitMu.Unlock()
	for range lost {
		s.cfg.metrics.RecordLoss()
	}
}

// addClient переводит клиента из ожидающих в живой набор после handshake
// и передаёт дальше датаграммы, пришедшие до шага 9.
func (s *Server) addClient(c *ClientModel) bool {
	s.mu.Lock()
	if s.Closed() {
		s.mu.Unlock()
		return false
	}
	delete(s.pending, c.ID)
	s.clients[c.ID] = c
	s.mu.Unlock()

	s.cfg.metrics.RecordClientAdded()
	if s.cfg.onClientAdded != nil {
		s.cfg.onClientAdded(c)
	}
	s.admit(c)
	return true
}

// admit открывает клиенту приём UDP и воспроизводит отложенные датаграммы по порядку.
func (s *Server) admit(c *ClientModel) {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()

	c.admitted = true
	backlog := c.backlog
	c.backlog = nil
	for _, p := range backlog {
		if !s.handleInbound(c, p, channel.UDP) {
			return
		}
	}
}

// candidates возвращает живых и ожидающих шаг 9 клиентов.
func (s *Server) candidates() []*ClientModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ClientModel, 0, len(s.clients)+len(s.pending))
	for _, c := range s.clients {
		out = append(out, c)
	}
	for _, c := range s.pending {
		out = append(out, c)
	}
	return out
}

// assignID выдаёт следующий UserID. Первый выданный — 2.
func (s *Server) assignID() uint32 {
	return s.nextID.Add(1)
}

func (s *Server) acquireSlot() bool {
	if s.connSem == nil {
		return true
	}
	select {
	case s.connSem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) releaseSlot() {
	if s.connSem == nil {
		return
	}
	select {
	case <-s.connSem:
	default:
	}
}

func (s *Server) release() {
	if err := s.tcpLis.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Error("server: close tcp listener", "error", err)
	}
	if err := s.udpConn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Error("server: close udp socket", "error", err)
	}

	for _, c := range s.Clients() {
		s.RemoveClient(c, "server closed")
	}
}

func (s *Server) fail(reason string) {
	slog.Info("server shutting down", "reason", reason)
	if s.cfg.onFail != nil {
		s.cfg.onFail(reason)
	}
}
