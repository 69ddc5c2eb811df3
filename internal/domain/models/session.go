package models

import "time"

// Session описывает активную сессию записи
type Session struct {
	ID        string    // Уникальный идентификатор (имя) сессии
	StartedAt time.Time // Момент старта (содержит показание монотонных часов)
	Active    bool
}

// SessionSummary - сводка по записанной сессии для просмотра истории
type SessionSummary struct {
	ID       string    `json:"id"`
	Readings int       `json:"readings"`
	FirstAt  time.Time `json:"firstAt"`
	LastAt   time.Time `json:"lastAt"`
}
