package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// chunkReader отдаёт данные порциями не длиннее size байт.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := min(len(p), r.size, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestDataStream(t *testing.T) {
	var s DataStream

	src := []byte("abc")
	s.Append(src)
	s.Append(nil)
	s.Append([]byte("de"))
	src[0] = 'X'

	if s.Len() != 5 {
		t.Fatalf("len: got %d, want 5", s.Len())
	}
	if got := s.Bytes(); string(got) != "abcde" {
		t.Errorf("bytes: got %q, want %q", got, "abcde")
	}
	if s.Len() != 0 {
		t.Errorf("stream not reset after Bytes: %d", s.Len())
	}
}

func TestFrameReaderReassembly(t *testing.T) {
	sender, receiver := cryptoPair(t, Light)
	enc := NewPacketFactory(sender)
	dec := NewPacketFactory(receiver)

	var wire bytes.Buffer
	want := []Packet{
		NewPacket(Command, 2, string(bytes.Repeat([]byte("x"), 5000))),
		NewPacket(Heartbeat, 2),
		NewPacket(Info, 2, "a", "b", "c"),
	}
	for _, p := range want {
		frame, err := enc.GetDataStream(p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		wire.Write(frame)
	}

	for _, chunk := range []int{1, 7, 64, 4096} {
		t.Run("", func(t *testing.T) {
			r := &chunkReader{data: bytes.Clone(wire.Bytes()), size: chunk}
			fr := NewFrameReader(r, 100, 0)

			for _, w := range want {
				frame, err := fr.ReadFrame(receiver.SessionKeyLen())
				if err != nil {
					t.Fatalf("chunk %d: read frame: %v", chunk, err)
				}
				got, err := dec.BuildPacket(frame)
				if err != nil {
					t.Fatalf("chunk %d: decode: %v", chunk, err)
				}
				samePacket(t, got, w)
			}

			if _, err := fr.ReadFrame(receiver.SessionKeyLen()); !errors.Is(err, io.EOF) {
				t.Errorf("expected EOF after last frame, got %v", err)
			}
		})
	}
}

func TestFrameReaderTooLarge(t *testing.T) {
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], 1<<30)

	fr := NewFrameReader(bytes.NewReader(header[:]), 64, 1024)
	_, err := fr.ReadFrame(0)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameReaderTruncated(t *testing.T) {
	cfg, _ := NewEncryptionConfig(None)
	frame, err := NewPacketFactory(cfg).GetDataStream(NewPacket(Command, 2, "payload"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	fr := NewFrameReader(bytes.NewReader(frame[:len(frame)-3]), 16, 0)
	_, err = fr.ReadFrame(0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}
