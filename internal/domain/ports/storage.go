package ports

import (
	"context"

	"sensorlink/internal/domain/models"
)

// ReadingRepository определяет шлюз хранения показаний, сгруппированных по сессиям.
// Реализация интерфейса находится в слое Infrastructure.
type ReadingRepository interface {
	// SessionExists проверяет, есть ли в хранилище записи с указанным ID сессии
	SessionExists(ctx context.Context, sessionID string) (bool, error)

	// InsertReading сохраняет показание и возвращает присвоенный ему ID
	InsertReading(ctx context.Context, reading models.StoredReading) (int64, error)

	// DistinctSessionIDs возвращает ID всех сессий, самые свежие первыми
	DistinctSessionIDs(ctx context.Context) ([]string, error)

	// QueryReadings возвращает показания по фильтру, самые свежие первыми
	QueryReadings(ctx context.Context, filter models.ReadingFilter) ([]models.StoredReading, error)
}
