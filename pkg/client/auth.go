package client

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/udisondev/clunks/pkg/channel"
	"github.com/udisondev/clunks/pkg/protocol"
)

// authenticate выполняет handshake, повторяя попытки на новом TCP соединении.
func (c *Client) authenticate() (uint32, error) {
	attempts := max(c.cfg.handshakeAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.Closed() {
			return 0, channel.ErrChannelClosed
		}

		if attempt > 1 {
			if err := c.redial(); err != nil {
				lastErr = err
				slog.Warn("client: redial failed", "attempt", attempt, "error", err)
				continue
			}
		}

		userID, err := channel.ClientHandshake(c.tcpSession(), c.strength, c.cfg.handshakeTimeout)
		c.cfg.metrics.RecordHandshake(err)
		if err == nil {
			return userID, nil
		}

		lastErr = err
		slog.Warn("client: handshake attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"server", c.tcpAddr,
			"error", err,
		)
	}

	return 0, fmt.Errorf("%w: %w", protocol.ErrHandshakeFailed, lastErr)
}

// redial заменяет TCP соединение новым с чистой конфигурацией шифрования.
func (c *Client) redial() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.connMu.Lock()
	if c.Closed() {
		c.connMu.Unlock()
		_ = conn.Close()
		return channel.ErrChannelClosed
	}
	old := c.session
	c.session = c.newSession(conn)
	c.connMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Debug("client: close previous connection", "error", err)
		}
	}
	return nil
}

func (c *Client) dial() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.dialTimeout}
	conn, err := dialer.Dial("tcp", c.tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.tcpAddr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

func (c *Client) newSession(conn net.Conn) *channel.Session {
	// Ошибка невозможна: пресет проверяется в Connect.
	cfg, _ := protocol.NewEncryptionConfig(c.strength)
	s := channel.NewSession(conn, protocol.NewPacketFactory(cfg), c.bufferSize, c.cfg.maxFrameSize)
	s.SetWriteTimeout(c.cfg.writeTimeout)
	return s
}
