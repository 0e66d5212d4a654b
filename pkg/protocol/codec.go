package protocol

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// marshalOptions — детерминированный порядок полей map.
var marshalOptions = proto.MarshalOptions{Deterministic: true}

// PacketFactory кодирует и декодирует кадры одного соединения.
//
// Формат кадра:
//
//	[bodyLength:u32 LE][encryptedSessionKey: RSAOutputLen байт, 0 без шифрования][payload: bodyLength байт]
//
// payload — сериализованный structpb.Struct с полями DataID, UserID и Body
// (base64 сериализованного тела). При UseCrypto payload зашифрован AES-CBC,
// а key||iv зашифрованы RSA ключом получателя.
type PacketFactory struct {
	cfg  *EncryptionConfig
	rand io.Reader
}

// NewPacketFactory создаёт кодек поверх конфигурации шифрования.
func NewPacketFactory(cfg *EncryptionConfig) *PacketFactory {
	return &PacketFactory{cfg: cfg, rand: rand.Reader}
}

// Config возвращает конфигурацию шифрования соединения.
func (f *PacketFactory) Config() *EncryptionConfig {
	return f.cfg
}

// SessionKeyLen — размер поля encryptedSessionKey в текущем режиме.
func (f *PacketFactory) SessionKeyLen() int {
	return f.cfg.SessionKeyLen()
}

// GetDataStream сериализует пакет в кадр.
// При CaptureSalts добавляет к телу свежую соль и дописывает её в OutgoingSalts.
// Ошибка шифрования фатальна для соединения.
func (f *PacketFactory) GetDataStream(p Packet) ([]byte, error) {
	cfg := f.cfg

	p.Salt = nil
	if cfg.CaptureSalts && cfg.SaltSize > 0 {
		salt := make([]byte, cfg.SaltSize)
		if _, err := io.ReadFull(f.rand, salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		p.Salt = salt
		cfg.OutgoingSalts = append(cfg.OutgoingSalts, salt...)
	}

	payload, err := marshalPayload(p)
	if err != nil {
		return nil, err
	}

	var sessionKey []byte
	if cfg.UseCrypto {
		sessionKey, payload, err = f.seal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncrypt, err)
		}
	}

	frame := make([]byte, HeaderSize+len(sessionKey)+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], sessionKey)
	copy(frame[HeaderSize+len(sessionKey):], payload)
	return frame, nil
}

// BuildPacket разбирает полный кадр.
// Любая ошибка фатальна для соединения: частичного восстановления нет.
func (f *PacketFactory) BuildPacket(frame []byte) (Packet, error) {
	cfg := f.cfg

	if len(frame) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: frame shorter than header", ErrMalformedPacket)
	}
	bodyLen := int(binary.LittleEndian.Uint32(frame))
	keyLen := cfg.SessionKeyLen()
	if len(frame) != HeaderSize+keyLen+bodyLen {
		return Packet{}, fmt.Errorf("%w: frame is %d bytes, header says %d", ErrMalformedPacket, len(frame), HeaderSize+keyLen+bodyLen)
	}

	payload := frame[HeaderSize+keyLen:]
	if cfg.UseCrypto {
		var err error
		payload, err = f.open(frame[HeaderSize:HeaderSize+keyLen], payload)
		if err != nil {
			return Packet{}, fmt.Errorf("%w: %w", ErrDecrypt, err)
		}
	}

	p, err := unmarshalPayload(payload)
	if err != nil {
		return Packet{}, err
	}

	if cfg.CaptureSalts && len(p.Salt) > 0 {
		cfg.IncomingSalts = append(cfg.IncomingSalts, p.Salt...)
	}
	return p, nil
}

// seal шифрует payload одноразовыми key+iv и оборачивает их RSA ключом получателя.
func (f *PacketFactory) seal(payload []byte) (sessionKey, ciphertext []byte, err error) {
	cfg := f.cfg
	if cfg.RecipientPub == nil {
		return nil, nil, ErrNoRecipientKey
	}

	material := make([]byte, cfg.AESKeyLen+aes.BlockSize)
	if _, err := io.ReadFull(f.rand, material); err != nil {
		return nil, nil, fmt.Errorf("generate session key: %w", err)
	}
	key, iv := material[:cfg.AESKeyLen], material[cfg.AESKeyLen:]

	ciphertext, err = encryptCBC(payload, key, iv)
	if err != nil {
		return nil, nil, err
	}

	sessionKey, err = rsa.EncryptPKCS1v15(f.rand, cfg.RecipientPub, material)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap session key: %w", err)
	}
	if len(sessionKey) != cfg.RSAOutputLen {
		return nil, nil, fmt.Errorf("wrapped session key is %d bytes, want %d", len(sessionKey), cfg.RSAOutputLen)
	}
	return sessionKey, ciphertext, nil
}

// open разворачивает key+iv своим приватным ключом и расшифровывает payload.
func (f *PacketFactory) open(sessionKey, ciphertext []byte) ([]byte, error) {
	cfg := f.cfg
	if cfg.Keys == nil {
		return nil, fmt.Errorf("private key not set")
	}

	material, err := rsa.DecryptPKCS1v15(nil, cfg.Keys.PrivateKey, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("unwrap session key: %w", err)
	}
	if len(material) != cfg.AESKeyLen+aes.BlockSize {
		return nil, fmt.Errorf("session key material is %d bytes", len(material))
	}
	return decryptCBC(ciphertext, material[:cfg.AESKeyLen], material[cfg.AESKeyLen:])
}

func marshalPayload(p Packet) ([]byte, error) {
	bodyFields := make(map[string]*structpb.Value, len(p.Body)+1)
	for i, v := range p.Body {
		// Значения тела произвольные байты: protobuf string принимает только UTF-8.
		bodyFields[bodyKey(i)] = structpb.NewStringValue(base64.StdEncoding.EncodeToString([]byte(v)))
	}
	if len(p.Salt) > 0 {
		bodyFields[fieldSalt] = structpb.NewStringValue(base64.StdEncoding.EncodeToString(p.Salt))
	}

	body, err := marshalOptions.Marshal(&structpb.Struct{Fields: bodyFields})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	payload, err := marshalOptions.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldDataID: structpb.NewStringValue(strconv.Itoa(int(p.DataID))),
		fieldUserID: structpb.NewStringValue(strconv.FormatUint(uint64(p.UserID), 10)),
		fieldBody:   structpb.NewStringValue(base64.StdEncoding.EncodeToString(body)),
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return payload, nil
}

func unmarshalPayload(data []byte) (Packet, error) {
	var payload structpb.Struct
	if err := proto.Unmarshal(data, &payload); err != nil {
		return Packet{}, fmt.Errorf("%w: payload: %w", ErrMalformedPacket, err)
	}

	dataIDStr, err := stringField(&payload, fieldDataID)
	if err != nil {
		return Packet{}, err
	}
	dataID, err := strconv.Atoi(dataIDStr)
	if err != nil || !DataID(dataID).Valid() {
		return Packet{}, fmt.Errorf("%w: data id %q", ErrMalformedPacket, dataIDStr)
	}

	userIDStr, err := stringField(&payload, fieldUserID)
	if err != nil {
		return Packet{}, err
	}
	userID, err := strconv.ParseUint(userIDStr, 10, 32)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: user id %q", ErrMalformedPacket, userIDStr)
	}

	bodyB64, err := stringField(&payload, fieldBody)
	if err != nil {
		return Packet{}, err
	}
	bodyRaw, err := base64.StdEncoding.DecodeString(bodyB64)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: body encoding: %w", ErrMalformedPacket, err)
	}

	var body structpb.Struct
	if err := proto.Unmarshal(bodyRaw, &body); err != nil {
		return Packet{}, fmt.Errorf("%w: body: %w", ErrMalformedPacket, err)
	}

	p := Packet{DataID: DataID(dataID), UserID: uint32(userID)}

	n := 0
	for k := range body.GetFields() {
		if strings.HasPrefix(k, bodyKeyPrefix) {
			n++
		}
	}
	if n > 0 {
		p.Body = make([]string, n)
		for i := range n {
			v, err := stringField(&body, bodyKey(i))
			if err != nil {
				return Packet{}, err
			}
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return Packet{}, fmt.Errorf("%w: %s encoding: %w", ErrMalformedPacket, bodyKey(i), err)
			}
			p.Body[i] = string(raw)
		}
	}

	if _, ok := body.GetFields()[fieldSalt]; ok {
		saltB64, err := stringField(&body, fieldSalt)
		if err != nil {
			return Packet{}, err
		}
		if p.Salt, err = base64.StdEncoding.DecodeString(saltB64); err != nil {
			return Packet{}, fmt.Errorf("%w: salt encoding: %w", ErrMalformedPacket, err)
		}
	}

	return p, nil
}

func stringField(s *structpb.Struct, key string) (string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %s", ErrMalformedPacket, key)
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: field %s is not a string", ErrMalformedPacket, key)
	}
	return sv.StringValue, nil
}
