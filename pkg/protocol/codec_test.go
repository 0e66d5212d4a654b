package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

// cryptoPair возвращает конфигурации отправителя и получателя с включённым шифрованием.
func cryptoPair(t testing.TB, s Strength) (sender, receiver *EncryptionConfig) {
	t.Helper()

	sender, err := NewEncryptionConfig(s)
	if err != nil {
		t.Fatalf("sender config: %v", err)
	}
	receiver, err = NewEncryptionConfig(s)
	if err != nil {
		t.Fatalf("receiver config: %v", err)
	}
	if err := sender.GenerateKeys(); err != nil {
		t.Fatalf("sender keys: %v", err)
	}
	if err := receiver.GenerateKeys(); err != nil {
		t.Fatalf("receiver keys: %v", err)
	}

	pemData, err := receiver.PublicKeyPEM()
	if err != nil {
		t.Fatalf("receiver pem: %v", err)
	}
	if err := sender.SetRecipientKey(pemData); err != nil {
		t.Fatalf("set recipient: %v", err)
	}

	sender.UseCrypto = true
	receiver.UseCrypto = true
	return sender, receiver
}

var roundTripPackets = []Packet{
	NewPacket(Command, NullID, "say", "hello world"),
	NewPacket(Heartbeat, 7),
	NewPacket(Login, 42, "alice", "p@ss:w0rd", ""),
	NewPacket(Status, 4294967295, StatusSuccess),
	NewPacket(AV, 3, string([]byte{0, 1, 2, 255})),
}

func samePacket(t *testing.T, got, want Packet) {
	t.Helper()
	if got.DataID != want.DataID {
		t.Errorf("data id: got %v, want %v", got.DataID, want.DataID)
	}
	if got.UserID != want.UserID {
		t.Errorf("user id: got %d, want %d", got.UserID, want.UserID)
	}
	if !reflect.DeepEqual(got.Body, want.Body) {
		t.Errorf("body: got %q, want %q", got.Body, want.Body)
	}
}

func TestPlainRoundTrip(t *testing.T) {
	cfg, err := NewEncryptionConfig(None)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	f := NewPacketFactory(cfg)

	for _, p := range roundTripPackets {
		t.Run(p.DataID.String(), func(t *testing.T) {
			frame, err := f.GetDataStream(p)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}

			bodyLen := binary.LittleEndian.Uint32(frame)
			if int(bodyLen) != len(frame)-HeaderSize {
				t.Errorf("body length: got %d, want %d", bodyLen, len(frame)-HeaderSize)
			}

			decoded, err := f.BuildPacket(frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			samePacket(t, decoded, p)
		})
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	for _, s := range []Strength{Light, Medium} {
		t.Run(s.String(), func(t *testing.T) {
			sender, receiver := cryptoPair(t, s)
			enc := NewPacketFactory(sender)
			dec := NewPacketFactory(receiver)

			for _, p := range roundTripPackets {
				frame, err := enc.GetDataStream(p)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}

				bodyLen := int(binary.LittleEndian.Uint32(frame))
				if len(frame) != HeaderSize+sender.RSAOutputLen+bodyLen {
					t.Errorf("frame length: got %d, want %d", len(frame), HeaderSize+sender.RSAOutputLen+bodyLen)
				}

				decoded, err := dec.BuildPacket(frame)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				samePacket(t, decoded, p)
			}
		})
	}
}

func TestBinaryBodyRoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	want := NewPacket(AV, 5, string(all), "\xc3\x28", "")

	plain, _ := NewEncryptionConfig(None)
	sender, receiver := cryptoPair(t, Medium)

	for name, pair := range map[string][2]*PacketFactory{
		"plain":     {NewPacketFactory(plain), NewPacketFactory(plain)},
		"encrypted": {NewPacketFactory(sender), NewPacketFactory(receiver)},
	} {
		t.Run(name, func(t *testing.T) {
			frame, err := pair[0].GetDataStream(want)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := pair[1].BuildPacket(frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			samePacket(t, got, want)
		})
	}
}

func TestBuildPacketBadBodyEncoding(t *testing.T) {
	body, err := marshalOptions.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		bodyKey(0): structpb.NewStringValue("not base64!"),
	}})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	payload, err := marshalOptions.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldDataID: structpb.NewStringValue("0"),
		fieldUserID: structpb.NewStringValue("2"),
		fieldBody:   structpb.NewStringValue(base64.StdEncoding.EncodeToString(body)),
	}})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	cfg, _ := NewEncryptionConfig(None)
	if _, err := NewPacketFactory(cfg).BuildPacket(frame); !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestEncryptedPayloadIsOpaque(t *testing.T) {
	sender, _ := cryptoPair(t, Light)
	f := NewPacketFactory(sender)

	frame, err := f.GetDataStream(NewPacket(Command, 2, "top-secret-marker"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if bytes.Contains(frame, []byte("top-secret-marker")) {
		t.Error("plaintext leaked into encrypted frame")
	}
}

func TestDecryptWithForeignKeyFails(t *testing.T) {
	sender, _ := cryptoPair(t, Light)
	_, stranger := cryptoPair(t, Light)

	frame, err := NewPacketFactory(sender).GetDataStream(NewPacket(Command, 2, "x"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = NewPacketFactory(stranger).BuildPacket(frame)
	if !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}

func TestEncryptWithoutRecipientFails(t *testing.T) {
	cfg, err := NewEncryptionConfig(Light)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.UseCrypto = true

	_, err = NewPacketFactory(cfg).GetDataStream(NewPacket(Ack, NullID))
	if !errors.Is(err, ErrEncrypt) {
		t.Errorf("expected ErrEncrypt, got %v", err)
	}
}

func TestBuildPacketMalformed(t *testing.T) {
	cfg, _ := NewEncryptionConfig(None)
	f := NewPacketFactory(cfg)

	good, err := f.GetDataStream(NewPacket(Ack, NullID))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	garbage := make([]byte, HeaderSize+5)
	binary.LittleEndian.PutUint32(garbage, 5)
	copy(garbage[HeaderSize:], []byte{0xff, 0xff, 0xff, 0xff, 0xff})

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"short header", []byte{1, 0}},
		{"truncated", good[:len(good)-1]},
		{"trailing bytes", append(bytes.Clone(good), 0)},
		{"garbage payload", garbage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.BuildPacket(tt.frame)
			if !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("expected ErrMalformedPacket, got %v", err)
			}
		})
	}
}

func TestSaltCapture(t *testing.T) {
	const n = 5

	sender, receiver := cryptoPair(t, Light)
	sender.CaptureSalts = true
	receiver.CaptureSalts = true
	enc := NewPacketFactory(sender)
	dec := NewPacketFactory(receiver)

	for i := range n {
		frame, err := enc.GetDataStream(NewPacket(Info, NullID, "packet", string(rune('a'+i))))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		p, err := dec.BuildPacket(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(p.Salt) != sender.SaltSize {
			t.Errorf("salt size: got %d, want %d", len(p.Salt), sender.SaltSize)
		}
	}

	if len(sender.OutgoingSalts) != n*sender.SaltSize {
		t.Errorf("outgoing salts: got %d, want %d", len(sender.OutgoingSalts), n*sender.SaltSize)
	}
	if !bytes.Equal(sender.OutgoingSalts, receiver.IncomingSalts) {
		t.Error("receiver did not observe the same salts")
	}

	// После заморозки накопители не растут.
	sender.CaptureSalts = false
	receiver.CaptureSalts = false
	frame, err := enc.GetDataStream(NewPacket(Command, 2, "steady"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	p, err := dec.BuildPacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Salt != nil {
		t.Error("salt attached after capture stopped")
	}
	if len(sender.OutgoingSalts) != n*sender.SaltSize {
		t.Error("outgoing salts changed after capture stopped")
	}
}

func TestSaltSignature(t *testing.T) {
	alice, bob := cryptoPair(t, Light)
	alice.CaptureSalts = true
	bob.CaptureSalts = true

	for range 3 {
		frame, err := NewPacketFactory(alice).GetDataStream(NewPacket(Ack, NullID))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if _, err := NewPacketFactory(bob).BuildPacket(frame); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}

	sig, err := alice.SignOutgoing()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// bob проверяет подпись alice ключом alice.
	alicePEM, _ := alice.PublicKeyPEM()
	if err := bob.SetRecipientKey(alicePEM); err != nil {
		t.Fatalf("set recipient: %v", err)
	}
	if err := bob.VerifyIncoming(sig); err != nil {
		t.Errorf("verify: %v", err)
	}

	// Подпись чужим ключом не проходит.
	mallory, _ := cryptoPair(t, Light)
	mallory.OutgoingSalts = alice.OutgoingSalts
	forged, err := mallory.SignOutgoing()
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := bob.VerifyIncoming(forged); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}
