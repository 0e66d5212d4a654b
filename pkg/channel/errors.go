package channel

import "errors"

// Ошибки канала
var (
	ErrChannelClosed    = errors.New("channel closed")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)
