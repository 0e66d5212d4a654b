package protocol

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/udisondev/clunks/pkg/identity"
)

// Strength — пресет размеров ключей и соли.
type Strength int

// Пресеты шифрования
const (
	Light Strength = iota
	Medium
	Strong
	None
)

func (s Strength) String() string {
	switch s {
	case Light:
		return "light"
	case Medium:
		return "medium"
	case Strong:
		return "strong"
	case None:
		return "none"
	default:
		return fmt.Sprintf("Strength(%d)", int(s))
	}
}

// ParseStrength разбирает имя пресета (регистр не важен).
func ParseStrength(s string) (Strength, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "light":
		return Light, nil
	case "medium":
		return Medium, nil
	case "strong":
		return Strong, nil
	case "none":
		return None, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrength, s)
}

// Параметры пресетов.
// Light использует 1024 бит: меньший модуль не вмещает SHA-512 подпись PKCS#1 v1.5.
var presets = map[Strength]struct {
	aesKeyLen   int
	rsaKeyBits  int
	saltDivisor int
}{
	Light:  {aesKeyLen: 16, rsaKeyBits: 1024, saltDivisor: 6},
	Medium: {aesKeyLen: 32, rsaKeyBits: 1024, saltDivisor: 3},
	Strong: {aesKeyLen: 32, rsaKeyBits: 2048, saltDivisor: 3},
	None:   {},
}

// EncryptionConfig — состояние шифрования одного соединения.
// Меняется только во время handshake (один писатель), после него только читается.
type EncryptionConfig struct {
	Strength     Strength
	AESKeyLen    int
	RSAKeyBits   int
	RSAOutputLen int
	SaltSize     int

	Keys         *identity.KeyPair
	RecipientPub *rsa.PublicKey

	UseCrypto    bool
	CaptureSalts bool

	// Накопители соли. Пополняются только при CaptureSalts.
	IncomingSalts []byte
	OutgoingSalts []byte
}

// NewEncryptionConfig создаёт конфигурацию с размерами пресета.
// Ключи не генерируются, шифрование и сбор соли выключены.
func NewEncryptionConfig(s Strength) (*EncryptionConfig, error) {
	c := &EncryptionConfig{}
	if err := c.Reset(s); err != nil {
		return nil, err
	}
	return c, nil
}

// Reset возвращает конфигурацию в исходное состояние для пресета s.
func (c *EncryptionConfig) Reset(s Strength) error {
	p, ok := presets[s]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownStrength, int(s))
	}

	*c = EncryptionConfig{
		Strength:     s,
		AESKeyLen:    p.aesKeyLen,
		RSAKeyBits:   p.rsaKeyBits,
		RSAOutputLen: p.rsaKeyBits / 8,
	}
	if p.saltDivisor > 0 {
		c.SaltSize = p.rsaKeyBits / p.saltDivisor
	}
	return nil
}

// Enabled сообщает, предусматривает ли пресет шифрование.
func (c *EncryptionConfig) Enabled() bool {
	return c.Strength != None
}

// GenerateKeys создаёт сессионную пару ключей. Для None ничего не делает.
func (c *EncryptionConfig) GenerateKeys() error {
	if !c.Enabled() {
		return nil
	}
	keys, err := identity.Generate(c.RSAKeyBits)
	if err != nil {
		return err
	}
	c.Keys = keys
	return nil
}

// PublicKeyPEM возвращает свой публичный ключ или пустую строку для None.
func (c *EncryptionConfig) PublicKeyPEM() (string, error) {
	if c.Keys == nil {
		return "", nil
	}
	return c.Keys.PublicKeyPEM()
}

// SetRecipientKey запоминает публичный ключ собеседника.
func (c *EncryptionConfig) SetRecipientKey(pemData string) error {
	if !c.Enabled() {
		return nil
	}
	pub, err := identity.ParsePublicKeyPEM(pemData)
	if err != nil {
		return err
	}
	if pub.Size() != c.RSAOutputLen {
		return fmt.Errorf("%w: recipient key is %d bytes, want %d", identity.ErrInvalidKey, pub.Size(), c.RSAOutputLen)
	}
	c.RecipientPub = pub
	return nil
}

// SessionKeyLen возвращает размер поля encryptedSessionKey в текущем режиме.
func (c *EncryptionConfig) SessionKeyLen() int {
	if c.UseCrypto {
		return c.RSAOutputLen
	}
	return 0
}

// SignOutgoing подписывает накопленную исходящую соль своим ключом.
func (c *EncryptionConfig) SignOutgoing() ([]byte, error) {
	if !c.Enabled() {
		return nil, nil
	}
	return c.Keys.Sign(c.OutgoingSalts)
}

// VerifyIncoming проверяет подпись собеседника над полученной солью.
func (c *EncryptionConfig) VerifyIncoming(sig []byte) error {
	if !c.Enabled() {
		return nil
	}
	if c.RecipientPub == nil {
		return ErrNoRecipientKey
	}
	if err := identity.Verify(c.RecipientPub, c.IncomingSalts, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}
