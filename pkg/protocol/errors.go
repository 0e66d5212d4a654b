package protocol

import "errors"

var (
	// ErrMalformedPacket — кадр или payload не удалось разобрать.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrDecrypt — не удалось расшифровать сессионный ключ или payload.
	ErrDecrypt = errors.New("decrypt failed")

	// ErrEncrypt — не удалось зашифровать payload.
	ErrEncrypt = errors.New("encrypt failed")

	// ErrFrameTooLarge — bodyLength из заголовка превышает лимит.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrNoRecipientKey — шифрование включено, но ключ получателя неизвестен.
	ErrNoRecipientKey = errors.New("recipient public key not set")

	// ErrInvalidSignature — подпись соли не прошла проверку.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnexpectedMessage — пришёл пакет не того типа, что ожидался на шаге handshake.
	ErrUnexpectedMessage = errors.New("unexpected message")

	// ErrHandshakeFailed — общая ошибка handshake.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrUnknownStrength — неизвестный пресет шифрования.
	ErrUnknownStrength = errors.New("unknown strength")
)
