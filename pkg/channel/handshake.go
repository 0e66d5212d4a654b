package channel

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/udisondev/clunks/pkg/protocol"
)

// Порядок handshake (инициатор — клиент):
//
//	1 C→S Hello{strength}      обе стороны начинают собирать соль
//	2 S→C Ack
//	3 C→S Info{pubC}
//	4 S→C Hello{pubS}          после отправки сервер включает шифрование
//	5 C→S Ack                  клиент шифрует начиная с этого шага
//	6 S→C Info{userID}         сбор соли прекращается
//	7 C→S Signature{sigC}
//	8 S→C Signature{sigS} | Status{failure}
//	9 C→S Status{success|failure}
//
// Каждая сторона подписывает свою исходящую соль, другая проверяет её по входящей.

// ClientHandshake выполняет handshake со стороны клиента и возвращает назначенный UserID.
// timeout ограничивает весь обмен (0 без ограничения).
func ClientHandshake(s *Session, strength protocol.Strength, timeout time.Duration) (uint32, error) {
	remote := s.Conn().RemoteAddr().String()
	cfg := s.Factory().Config()

	if timeout > 0 {
		if err := s.Conn().SetDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("set deadline: %w", err)
		}
		defer func() {
			if err := s.Conn().SetDeadline(time.Time{}); err != nil {
				slog.Debug("handshake: reset deadline failed", "error", err, "remote", remote)
			}
		}()
	}

	if err := cfg.Reset(strength); err != nil {
		return 0, err
	}
	if err := cfg.GenerateKeys(); err != nil {
		return 0, fmt.Errorf("generate keys: %w", err)
	}

	// 1. Hello{strength}
	if err := s.WritePacket(protocol.NewPacket(protocol.Hello, protocol.NullID, strength.String())); err != nil {
		return 0, fmt.Errorf("send hello: %w", err)
	}
	cfg.CaptureSalts = cfg.Enabled()
	slog.Debug("handshake: hello sent", "remote", remote, "strength", strength)

	// 2. Ack
	if _, err := expect(s, protocol.Ack); err != nil {
		return 0, fmt.Errorf("read ack: %w", err)
	}

	// 3. Info{pubC}
	pubPEM, err := cfg.PublicKeyPEM()
	if err != nil {
		return 0, fmt.Errorf("export public key: %w", err)
	}
	if err := s.WritePacket(protocol.NewPacket(protocol.Info, protocol.NullID, pubPEM)); err != nil {
		return 0, fmt.Errorf("send public key: %w", err)
	}

	// 4. Hello{pubS}
	p, err := expect(s, protocol.Hello)
	if err != nil {
		return 0, fmt.Errorf("read server key: %w", err)
	}
	if err := cfg.SetRecipientKey(p.Field(0)); err != nil {
		return 0, fmt.Errorf("server key: %w", err)
	}
	cfg.UseCrypto = cfg.Enabled()

	// 5. Ack
	if err := s.WritePacket(protocol.NewPacket(protocol.Ack, protocol.NullID)); err != nil {
		return 0, fmt.Errorf("send ack: %w", err)
	}

	// 6. Info{userID}
	p, err = expect(s, protocol.Info)
	if err != nil {
		return 0, fmt.Errorf("read user id: %w", err)
	}
	cfg.CaptureSalts = false

	userID, err := strconv.ParseUint(p.Field(0), 10, 32)
	if err != nil || uint32(userID) == protocol.NullID {
		return 0, fmt.Errorf("%w: user id %q", protocol.ErrMalformedPacket, p.Field(0))
	}
	slog.Debug("handshake: user id assigned", "remote", remote, "user_id", userID)

	// 7. Signature{sigC}
	sig, err := cfg.SignOutgoing()
	if err != nil {
		return 0, fmt.Errorf("sign salts: %w", err)
	}
	if err := s.WritePacket(protocol.NewPacket(protocol.Signature, uint32(userID), base64.StdEncoding.EncodeToString(sig))); err != nil {
		return 0, fmt.Errorf("send signature: %w", err)
	}

	// 8. Signature{sigS} или Status{failure}
	p, err = s.ReadPacket()
	if err != nil {
		return 0, fmt.Errorf("read server signature: %w", err)
	}
	switch p.DataID {
	case protocol.Signature:
	case protocol.Status:
		return 0, fmt.Errorf("%w: server rejected client signature", protocol.ErrInvalidSignature)
	default:
		return 0, fmt.Errorf("read server signature: %w: got %s", protocol.ErrUnexpectedMessage, p.DataID)
	}

	if err := verifyField(cfg, p.Field(0)); err != nil {
		slog.Warn("handshake: server signature invalid", "remote", remote, "error", err)
		if werr := s.WritePacket(protocol.NewPacket(protocol.Status, uint32(userID), protocol.StatusFailure)); werr != nil {
			slog.Debug("handshake: send failure status", "remote", remote, "error", werr)
		}
		return 0, err
	}

	// 9. Status{success}
	if err := s.WritePacket(protocol.NewPacket(protocol.Status, uint32(userID), protocol.StatusSuccess)); err != nil {
		return 0, fmt.Errorf("send status: %w", err)
	}

	return uint32(userID), nil
}

// ServerHandshake выполняет handshake со стороны сервера.
// assign выдаёт UserID на шаге 6. onSigned (может быть nil) вызывается после отправки
// шага 8: ключи и флаги шифрования больше не меняются, а клиент может начать слать
// кадры, не дожидаясь, пока сервер прочитает шаг 9.
// Возвращает UserID и запрошенный клиентом пресет.
func ServerHandshake(s *Session, assign func() uint32, onSigned func(userID uint32), timeout time.Duration) (uint32, protocol.Strength, error) {
	remote := s.Conn().RemoteAddr().String()
	cfg := s.Factory().Config()

	if timeout > 0 {
		if err := s.Conn().SetDeadline(time.Now().Add(timeout)); err != nil {
			return 0, 0, fmt.Errorf("set deadline: %w", err)
		}
		defer func() {
			if err := s.Conn().SetDeadline(time.Time{}); err != nil {
				slog.Debug("handshake: reset deadline failed", "error", err, "remote", remote)
			}
		}()
	}

	// 1. Hello{strength}
	p, err := expect(s, protocol.Hello)
	if err != nil {
		return 0, 0, fmt.Errorf("read hello: %w", err)
	}
	strength, err := protocol.ParseStrength(p.Field(0))
	if err != nil {
		return 0, 0, err
	}
	if err := cfg.Reset(strength); err != nil {
		return 0, 0, err
	}
	if err := cfg.GenerateKeys(); err != nil {
		return 0, 0, fmt.Errorf("generate keys: %w", err)
	}
	cfg.CaptureSalts = cfg.Enabled()
	slog.Debug("handshake: hello received", "remote", remote, "strength", strength)

	// 2. Ack
	if err := s.WritePacket(protocol.NewPacket(protocol.Ack, protocol.NullID)); err != nil {
		return 0, 0, fmt.Errorf("send ack: %w", err)
	}

	// 3. Info{pubC}
	p, err = expect(s, protocol.Info)
	if err != nil {
		return 0, 0, fmt.Errorf("read client key: %w", err)
	}
	if err := cfg.SetRecipientKey(p.Field(0)); err != nil {
		return 0, 0, fmt.Errorf("client key: %w", err)
	}

	// 4. Hello{pubS}
	pubPEM, err := cfg.PublicKeyPEM()
	if err != nil {
		return 0, 0, fmt.Errorf("export public key: %w", err)
	}
	if err := s.WritePacket(protocol.NewPacket(protocol.Hello, protocol.NullID, pubPEM)); err != nil {
		return 0, 0, fmt.Errorf("send public key: %w", err)
	}
	cfg.UseCrypto = cfg.Enabled()

	// 5. Ack
	if _, err := expect(s, protocol.Ack); err != nil {
		return 0, 0, fmt.Errorf("read ack: %w", err)
	}

	// 6. Info{userID}
	userID := assign()
	if err := s.WritePacket(protocol.NewPacket(protocol.Info, protocol.NullID, strconv.FormatUint(uint64(userID), 10))); err != nil {
		return 0, 0, fmt.Errorf("send user id: %w", err)
	}
	cfg.CaptureSalts = false

	// 7. Signature{sigC}
	p, err = expect(s, protocol.Signature)
	if err != nil {
		return 0, 0, fmt.Errorf("read client signature: %w", err)
	}
	if err := verifyField(cfg, p.Field(0)); err != nil {
		slog.Warn("handshake: client signature invalid", "remote", remote, "error", err)
		if werr := s.WritePacket(protocol.NewPacket(protocol.Status, userID, protocol.StatusFailure)); werr != nil {
			slog.Debug("handshake: send failure status", "remote", remote, "error", werr)
		}
		return 0, 0, err
	}

	// 8. Signature{sigS}
	sig, err := cfg.SignOutgoing()
	if err != nil {
		return 0, 0, fmt.Errorf("sign salts: %w", err)
	}
	if err := s.WritePacket(protocol.NewPacket(protocol.Signature, userID, base64.StdEncoding.EncodeToString(sig))); err != nil {
		return 0, 0, fmt.Errorf("send signature: %w", err)
	}
	if onSigned != nil {
		onSigned(userID)
	}

	// 9. Status
	p, err = expect(s, protocol.Status)
	if err != nil {
		return 0, 0, fmt.Errorf("read status: %w", err)
	}
	if p.Field(0) != protocol.StatusSuccess {
		return 0, 0, fmt.Errorf("%w: client rejected server signature", protocol.ErrInvalidSignature)
	}

	return userID, strength, nil
}

// expect читает следующий пакет и проверяет его DataID.
func expect(s *Session, want protocol.DataID) (protocol.Packet, error) {
	p, err := s.ReadPacket()
	if err != nil {
		return protocol.Packet{}, err
	}
	if p.DataID != want {
		return protocol.Packet{}, fmt.Errorf("%w: got %s, want %s", protocol.ErrUnexpectedMessage, p.DataID, want)
	}
	return p, nil
}

func verifyField(cfg *protocol.EncryptionConfig, field string) error {
	sig, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %w", protocol.ErrInvalidSignature, err)
	}
	return cfg.VerifyIncoming(sig)
}
