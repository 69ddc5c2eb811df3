package models

import "time"

// Field определяет ключ поля телеметрии в формате KEY:VALUE.
type Field string

const (
	FieldTemperature Field = "TEMP"  // Температура, °C
	FieldHumidity    Field = "HUM"   // Влажность, %
	FieldLight       Field = "LIGHT" // Освещенность (сырое значение или флаг 0/1)
	FieldFire        Field = "FIRE"  // Пожарная тревога
	FieldSound1      Field = "S1"    // Уровень звука, датчик 1
	FieldSound2      Field = "S2"    // Уровень звука, датчик 2
	FieldSoundAlarm  Field = "SA"    // Звуковая тревога
)

// AllFields возвращает поля в порядке их следования в строке протокола.
func AllFields() []Field {
	return []Field{
		FieldTemperature,
		FieldHumidity,
		FieldLight,
		FieldFire,
		FieldSound1,
		FieldSound2,
		FieldSoundAlarm,
	}
}

// Reading представляет декодированный снимок показаний датчиков
type Reading struct {
	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // Целое в формате KEY:VALUE, проценты в позиционном
	Light       int     `json:"light"`
	FireAlarm   bool    `json:"fireAlarm"`
	Sound1      int     `json:"sound1"`
	Sound2      int     `json:"sound2"`
	SoundAlarm  bool    `json:"soundAlarm"`
}

// StoredReading - записанное в хранилище показание с привязкой к сессии записи.
// После записи не изменяется.
type StoredReading struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"sessionId"`
	Timestamp      time.Time `json:"timestamp"`      // Время ПК на момент записи
	ElapsedSeconds float64   `json:"elapsedSeconds"` // Секунды от начала сессии
	Reading
}

// ReadingFilter - набор необязательных условий выборки, объединяемых по И.
type ReadingFilter struct {
	From      time.Time // timestamp >= From, если не нулевое
	SessionID string    // session_id = SessionID, если не пустой
	Limit     int       // 0 - без ограничения
}

// BoolToFlag кодирует логическое значение в формат устройства (0/1).
func BoolToFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
