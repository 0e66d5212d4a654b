// Package identity предоставляет работу с сессионными RSA ключами.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrInvalidKey — PEM не содержит RSA публичного ключа.
var ErrInvalidKey = errors.New("invalid key")

const pemTypePublicKey = "PUBLIC KEY"

// KeyPair содержит пару RSA ключей одной сессии.
type KeyPair struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
}

// Generate создаёт новую пару ключей указанной длины.
func Generate(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{
		PublicKey:  &priv.PublicKey,
		PrivateKey: priv,
	}, nil
}

// Size возвращает длину модуля в байтах (= длина RSA шифротекста и подписи).
func (k *KeyPair) Size() int {
	return k.PublicKey.Size()
}

// PublicKeyPEM возвращает публичный ключ в PEM формате для передачи по сети.
func (k *KeyPair) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.PublicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})), nil
}

// ParsePublicKeyPEM разбирает публичный ключ собеседника.
func ParsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != pemTypePublicKey {
		return nil, ErrInvalidKey
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return rsaPub, nil
}

// Sign подписывает SHA-512 дайджест данных (PKCS#1 v1.5).
func (k *KeyPair) Sign(data []byte) ([]byte, error) {
	digest := sha512.Sum512(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.PrivateKey, crypto.SHA512, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify проверяет подпись, сделанную Sign.
func Verify(pub *rsa.PublicKey, data, sig []byte) error {
	digest := sha512.Sum512(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA512, digest[:], sig)
}
