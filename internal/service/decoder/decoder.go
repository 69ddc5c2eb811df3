package decoder

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"sensorlink/internal/domain/models"
)

// Variant определяет формат строки телеметрии. Выбирается один раз на подключение.
type Variant string

const (
	// VariantKeyValue - пары KEY:VALUE через запятую (TEMP, HUM, LIGHT, FIRE, S1, S2, SA)
	VariantKeyValue Variant = "keyvalue"
	// VariantPositional - tag,temp,fire,humidity,light,s1,s2,sa с флагами 0/1
	VariantPositional Variant = "positional"
)

// positionalFieldCount - количество полей позиционного формата, включая тег
const positionalFieldCount = 8

// ParseVariant проверяет имя формата из конфигурации
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantKeyValue, VariantPositional:
		return v, nil
	case "":
		return VariantKeyValue, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
	}
}

// Result - результат разбора одной строки.
type Result struct {
	Reading models.Reading // Накопленное состояние после применения строки
	Updated []models.Field // Поля, обновленные этой строкой
}

// Decoder разбирает строки одного формата и хранит последние известные значения полей.
// Не потокобезопасен: используется только из цикла чтения порта.
type Decoder struct {
	variant Variant
	state   models.Reading
}

// New создает декодер для заданного формата
func New(variant Variant) (*Decoder, error) {
	if _, err := ParseVariant(string(variant)); err != nil {
		return nil, err
	}
	return &Decoder{variant: variant}, nil
}

// Variant возвращает формат декодера
func (d *Decoder) Variant() Variant {
	return d.variant
}

// State возвращает последние известные значения полей
func (d *Decoder) State() models.Reading {
	return d.state
}

// Reset сбрасывает накопленное состояние (при новом подключении)
func (d *Decoder) Reset() {
	d.state = models.Reading{}
}

// Decode разбирает строку. Поля с ошибкой разбора не изменяют состояние и
// возвращаются в *LineError; Result при этом содержит все успешно примененные поля.
// Ошибка уровня строки (ErrEmptyLine, ErrFieldCount) не изменяет состояние.
func (d *Decoder) Decode(line string) (Result, error) {
	line = strings.TrimSpace(line)
	if d.variant == VariantPositional {
		return d.decodePositional(line)
	}
	return d.decodeKeyValue(line)
}

func (d *Decoder) decodeKeyValue(line string) (Result, error) {
	next := d.state
	var updated []models.Field
	var fieldErrs []*FieldError
	recognized := 0

	for _, part := range strings.Split(line, ",") {
		kv := strings.Split(part, ":")
		if len(kv) != 2 {
			continue
		}
		key := models.Field(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])
		if !isKnownField(key) {
			continue
		}
		recognized++

		if err := applyKeyValue(&next, key, value); err != nil {
			fieldErrs = append(fieldErrs, &FieldError{Field: key, Value: value, Err: err})
			continue
		}
		updated = append(updated, key)
	}

	if recognized == 0 {
		return Result{Reading: d.state}, ErrEmptyLine
	}

	d.state = next
	res := Result{Reading: next, Updated: updated}
	if len(fieldErrs) > 0 {
		return res, &LineError{Fields: fieldErrs}
	}
	return res, nil
}

func applyKeyValue(r *models.Reading, key models.Field, value string) error {
	switch key {
	case models.FieldTemperature:
		v, err := parseFinite(value)
		if err != nil {
			return err
		}
		r.Temperature = v
	case models.FieldHumidity:
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		r.Humidity = float64(v)
	case models.FieldLight:
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		r.Light = v
	case models.FieldFire:
		v, err := parseFlag(value)
		if err != nil {
			return err
		}
		r.FireAlarm = v
	case models.FieldSound1:
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		r.Sound1 = v
	case models.FieldSound2:
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		r.Sound2 = v
	case models.FieldSoundAlarm:
		v, err := parseFlag(value)
		if err != nil {
			return err
		}
		r.SoundAlarm = v
	}
	return nil
}

// decodePositional разбирает формат tag,temp,fire,humidity,light,s1,s2,sa.
// Тег (первое поле) не интерпретируется.
func (d *Decoder) decodePositional(line string) (Result, error) {
	parts := strings.Split(line, ",")
	if len(parts) < positionalFieldCount {
		return Result{Reading: d.state}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(parts), positionalFieldCount)
	}

	next := d.state
	var updated []models.Field
	var fieldErrs []*FieldError

	fields := []models.Field{
		models.FieldTemperature,
		models.FieldFire,
		models.FieldHumidity,
		models.FieldLight,
		models.FieldSound1,
		models.FieldSound2,
		models.FieldSoundAlarm,
	}
	for i, field := range fields {
		value := strings.TrimSpace(parts[i+1])
		if err := applyPositional(&next, field, value); err != nil {
			fieldErrs = append(fieldErrs, &FieldError{Field: field, Value: value, Err: err})
			continue
		}
		updated = append(updated, field)
	}

	d.state = next
	res := Result{Reading: next, Updated: updated}
	if len(fieldErrs) > 0 {
		return res, &LineError{Fields: fieldErrs}
	}
	return res, nil
}

func applyPositional(r *models.Reading, field models.Field, value string) error {
	switch field {
	case models.FieldTemperature:
		v, err := parseFinite(value)
		if err != nil {
			return err
		}
		r.Temperature = v
	case models.FieldHumidity:
		v, err := parseFinite(value)
		if err != nil {
			return err
		}
		r.Humidity = v
	case models.FieldFire:
		v, err := parseFlag(value)
		if err != nil {
			return err
		}
		r.FireAlarm = v
	case models.FieldLight, models.FieldSound1, models.FieldSound2:
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		// Флаги 0/1 хранятся как целые, чтобы схема хранения была общей для обоих форматов
		switch field {
		case models.FieldLight:
			r.Light = v
		case models.FieldSound1:
			r.Sound1 = v
		default:
			r.Sound2 = v
		}
	case models.FieldSoundAlarm:
		v, err := parseFlag(value)
		if err != nil {
			return err
		}
		r.SoundAlarm = v
	}
	return nil
}

// parseFinite разбирает вещественное значение. NaN и бесконечность (датчик печатает
// "nan" при сбое чтения) считаются ошибкой поля.
func parseFinite(value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNotFinite
	}
	return v, nil
}

// parseFlag: 0 - выключено, любое ненулевое целое - включено
func parseFlag(value string) (bool, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func isKnownField(f models.Field) bool {
	for _, known := range models.AllFields() {
		if f == known {
			return true
		}
	}
	return false
}
