package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DataStream накапливает фрагменты одного кадра в порядке поступления.
type DataStream struct {
	segments [][]byte
	size     int
}

// Append добавляет копию фрагмента.
func (s *DataStream) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	seg := make([]byte, len(b))
	copy(seg, b)
	s.segments = append(s.segments, seg)
	s.size += len(seg)
}

// Len возвращает количество накопленных байт.
func (s *DataStream) Len() int {
	return s.size
}

// Bytes склеивает фрагменты и очищает накопитель.
func (s *DataStream) Bytes() []byte {
	out := make([]byte, 0, s.size)
	for _, seg := range s.segments {
		out = append(out, seg...)
	}
	s.Reset()
	return out
}

// Reset очищает накопитель.
func (s *DataStream) Reset() {
	clear(s.segments)
	s.segments = s.segments[:0]
	s.size = 0
}

// FrameReader собирает кадры из байтового потока TCP.
type FrameReader struct {
	r        io.Reader
	stream   DataStream
	buf      []byte
	maxFrame int
}

// NewFrameReader создаёт сборщик, читающий порциями по bufferSize байт.
// maxFrame ограничивает bodyLength; 0 — без ограничения.
func NewFrameReader(r io.Reader, bufferSize, maxFrame int) *FrameReader {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &FrameReader{
		r:        r,
		buf:      make([]byte, bufferSize),
		maxFrame: maxFrame,
	}
}

// ReadFrame читает ровно один кадр: заголовок, затем keyLen+bodyLength байт.
// Возвращённый срез принадлежит вызывающему.
func (fr *FrameReader) ReadFrame(keyLen int) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	bodyLen := int(binary.LittleEndian.Uint32(header[:]))
	if fr.maxFrame > 0 && bodyLen > fr.maxFrame {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, fr.maxFrame)
	}

	total := HeaderSize + keyLen + bodyLen
	fr.stream.Reset()
	fr.stream.Append(header[:])

	for fr.stream.Len() < total {
		want := min(len(fr.buf), total-fr.stream.Len())
		n, err := fr.r.Read(fr.buf[:want])
		fr.stream.Append(fr.buf[:n])
		if err != nil {
			if err == io.EOF && fr.stream.Len() < total {
				err = io.ErrUnexpectedEOF
			}
			if fr.stream.Len() < total {
				fr.stream.Reset()
				return nil, fmt.Errorf("read body: %w", err)
			}
		}
	}

	return fr.stream.Bytes(), nil
}
