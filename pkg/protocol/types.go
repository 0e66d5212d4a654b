// Package protocol определяет wire protocol для clunks.
package protocol

import "fmt"

// DataID тип пакета. Единое перечисление для клиента и сервера:
// порядковый номер передаётся по сети, поэтому порядок менять нельзя.
type DataID int

// Типы пакетов
const (
	Command DataID = iota
	Ack
	Info
	Signature
	Heartbeat
	AV
	Hello
	Status
	Login
)

var dataIDNames = [...]string{
	Command:   "Command",
	Ack:       "Ack",
	Info:      "Info",
	Signature: "Signature",
	Heartbeat: "Heartbeat",
	AV:        "AV",
	Hello:     "Hello",
	Status:    "Status",
	Login:     "Login",
}

// Valid сообщает, известен ли тип пакета.
func (d DataID) Valid() bool {
	return d >= Command && d <= Login
}

func (d DataID) String() string {
	if !d.Valid() {
		return fmt.Sprintf("DataID(%d)", int(d))
	}
	return dataIDNames[d]
}

// Размеры и служебные значения
const (
	// HeaderSize — размер префикса длины кадра.
	HeaderSize = 4

	// NullID — UserID до того, как сервер назначил настоящий.
	NullID uint32 = 1

	// MaxDatagramSize — максимальный полезный размер UDP датаграммы.
	MaxDatagramSize = 65507

	// DefaultMaxFrameSize — ограничение на bodyLength из заголовка TCP кадра.
	DefaultMaxFrameSize = 1 << 20
)

// Ключи полей payload и тела пакета
const (
	fieldDataID   = "DataID"
	fieldUserID   = "UserID"
	fieldBody     = "Body"
	fieldSalt     = "Salt"
	bodyKeyPrefix = "data-"
)

// Статусы в теле пакета Status
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)
