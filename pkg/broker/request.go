package broker

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/udisondev/clunks/pkg/protocol"
)

// ErrInvalidRequest — тело запроса NATS не удалось разобрать.
var ErrInvalidRequest = errors.New("invalid broker request")

// subjectPrefix — префикс NATS subject запросов.
const subjectPrefix = "clunks."

// Request — пакет клиента, переданный хранилищу.
type Request struct {
	DataID    protocol.DataID
	UserID    uint32
	SessionID string
	IsAdmin   bool
	Body      []string
}

// Field возвращает i-й элемент тела или пустую строку.
func (r Request) Field(i int) string {
	if i < 0 || i >= len(r.Body) {
		return ""
	}
	return r.Body[i]
}

// Subject возвращает NATS subject для типа пакета, например "clunks.command".
func Subject(id protocol.DataID) string {
	return subjectPrefix + strings.ToLower(id.String())
}

// EncodeRequest сериализует запрос в structpb.Struct.
func EncodeRequest(r Request) ([]byte, error) {
	body := make([]any, len(r.Body))
	for i, v := range r.Body {
		body[i] = v
	}

	s, err := structpb.NewStruct(map[string]any{
		"data_id":    r.DataID.String(),
		"user_id":    float64(r.UserID),
		"session_id": r.SessionID,
		"is_admin":   r.IsAdmin,
		"body":       body,
	})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

// DecodeRequest разбирает результат EncodeRequest.
func DecodeRequest(data []byte) (Request, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return Request{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	fields := s.GetFields()

	name := fields["data_id"].GetStringValue()
	id, ok := parseDataID(name)
	if !ok {
		return Request{}, fmt.Errorf("%w: data id %q", ErrInvalidRequest, name)
	}

	userID := fields["user_id"].GetNumberValue()
	if userID < 0 || userID > float64(^uint32(0)) {
		return Request{}, fmt.Errorf("%w: user id %v", ErrInvalidRequest, userID)
	}

	r := Request{
		DataID:    id,
		UserID:    uint32(userID),
		SessionID: fields["session_id"].GetStringValue(),
		IsAdmin:   fields["is_admin"].GetBoolValue(),
	}
	for _, v := range fields["body"].GetListValue().GetValues() {
		r.Body = append(r.Body, v.GetStringValue())
	}
	return r, nil
}

func parseDataID(name string) (protocol.DataID, bool) {
	for id := protocol.Command; id <= protocol.Login; id++ {
		if id.String() == name {
			return id, true
		}
	}
	return 0, false
}
