package channel

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/udisondev/clunks/pkg/protocol"
)

// Session — потоковое соединение с кодеком и сборщиком кадров.
// Одновременно допускается один читатель; запись сериализуется мьютексом.
type Session struct {
	conn    net.Conn
	factory *protocol.PacketFactory
	reader  *protocol.FrameReader

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

// NewSession оборачивает соединение. bufferSize — размер порции чтения,
// maxFrame — предел bodyLength (0 без ограничения).
func NewSession(conn net.Conn, factory *protocol.PacketFactory, bufferSize, maxFrame int) *Session {
	return &Session{
		conn:    conn,
		factory: factory,
		reader:  protocol.NewFrameReader(conn, bufferSize, maxFrame),
	}
}

// SetWriteTimeout задаёт таймаут записи одного кадра (0 без таймаута).
func (s *Session) SetWriteTimeout(d time.Duration) {
	s.writeMu.Lock()
	s.writeTimeout = d
	s.writeMu.Unlock()
}

// Conn возвращает исходное соединение.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// Factory возвращает кодек соединения.
func (s *Session) Factory() *protocol.PacketFactory {
	return s.factory
}

// WritePacket кодирует пакет и отправляет кадр.
// Кодирование идёт под тем же мьютексом, что и запись: порядок соли совпадает с порядком на проводе.
func (s *Session) WritePacket(p protocol.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	frame, err := s.factory.GetDataStream(p)
	if err != nil {
		return fmt.Errorf("encode packet: %w", err)
	}
	return s.writeFrame(frame)
}

// WriteFrame отправляет готовый кадр.
func (s *Session) WriteFrame(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeFrame(frame)
}

// writeFrame пишет заголовок и остаток кадра двумя операциями.
func (s *Session) writeFrame(frame []byte) error {
	if len(frame) < protocol.HeaderSize {
		return fmt.Errorf("%w: frame shorter than header", protocol.ErrMalformedPacket)
	}

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := s.conn.Write(frame[:protocol.HeaderSize]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := s.conn.Write(frame[protocol.HeaderSize:]); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadFrame читает один полный кадр.
func (s *Session) ReadFrame() ([]byte, error) {
	return s.reader.ReadFrame(s.factory.SessionKeyLen())
}

// ReadPacket читает и декодирует один пакет.
func (s *Session) ReadPacket() (protocol.Packet, error) {
	frame, err := s.ReadFrame()
	if err != nil {
		return protocol.Packet{}, err
	}
	return s.factory.BuildPacket(frame)
}

// Close закрывает соединение. Повторное закрытие не считается ошибкой.
func (s *Session) Close() error {
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
