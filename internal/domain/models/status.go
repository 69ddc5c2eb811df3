package models

// ConnectionState - состояние физического подключения к порту.
// Изменяется только сессией порта.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status - статус подключения, который видит пользователь.
type Status string

const (
	StatusNotConnected       Status = "not-connected"
	StatusConnecting         Status = "connecting"
	StatusConnected          Status = "connected"
	StatusConnectFailed      Status = "failed-to-connect"
	StatusConnectionLost     Status = "connection-lost"
	StatusDisconnectedByUser Status = "disconnected-by-user"
)

// StatusInfo содержит данные для строки состояния
type StatusInfo struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`             // Человекочитаемое описание
	Port      string `json:"port,omitempty"`      // Текущий или последний порт
	SessionID string `json:"sessionId,omitempty"` // Активная сессия записи
	Recording bool   `json:"recording"`
}
