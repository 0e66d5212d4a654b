package protocol

import (
	"strconv"
)

// Packet — одно сообщение канала.
// Body упорядочен: элемент i передаётся под ключом "data-i".
type Packet struct {
	DataID DataID
	UserID uint32
	Body   []string
	// Salt заполняется кодеком, пока включён сбор соли.
	Salt []byte
}

// NewPacket создаёт пакет с телом из переданных значений.
func NewPacket(id DataID, userID uint32, body ...string) Packet {
	return Packet{
		DataID: id,
		UserID: userID,
		Body:   body,
	}
}

// Field возвращает i-й элемент тела или пустую строку.
func (p Packet) Field(i int) string {
	if i < 0 || i >= len(p.Body) {
		return ""
	}
	return p.Body[i]
}

func bodyKey(i int) string {
	return bodyKeyPrefix + strconv.Itoa(i)
}
