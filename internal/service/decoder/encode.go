package decoder

import (
	"strconv"
	"strings"

	"sensorlink/internal/domain/models"
)

// DefaultTag - тег первого поля позиционного формата, который шлет прошивка
const DefaultTag = "DUMMY"

// EncodeKeyValue формирует строку KEY:VALUE для перечисленных полей
// (все поля, если список пуст). Перевод строки не добавляется.
func EncodeKeyValue(r models.Reading, fields ...models.Field) string {
	if len(fields) == 0 {
		fields = models.AllFields()
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, string(f)+":"+formatKeyValue(r, f))
	}
	return strings.Join(parts, ",")
}

func formatKeyValue(r models.Reading, f models.Field) string {
	switch f {
	case models.FieldTemperature:
		return strconv.FormatFloat(r.Temperature, 'f', -1, 64)
	case models.FieldHumidity:
		return strconv.Itoa(int(r.Humidity))
	case models.FieldLight:
		return strconv.Itoa(r.Light)
	case models.FieldFire:
		return strconv.Itoa(models.BoolToFlag(r.FireAlarm))
	case models.FieldSound1:
		return strconv.Itoa(r.Sound1)
	case models.FieldSound2:
		return strconv.Itoa(r.Sound2)
	case models.FieldSoundAlarm:
		return strconv.Itoa(models.BoolToFlag(r.SoundAlarm))
	}
	return ""
}

// EncodePositional формирует строку tag,temp,fire,humidity,light,s1,s2,sa.
// Температура и влажность выводятся с одним знаком после запятой.
func EncodePositional(tag string, r models.Reading) string {
	if tag == "" {
		tag = DefaultTag
	}
	return strings.Join([]string{
		tag,
		strconv.FormatFloat(r.Temperature, 'f', 1, 64),
		strconv.Itoa(models.BoolToFlag(r.FireAlarm)),
		strconv.FormatFloat(r.Humidity, 'f', 1, 64),
		strconv.Itoa(r.Light),
		strconv.Itoa(r.Sound1),
		strconv.Itoa(r.Sound2),
		strconv.Itoa(models.BoolToFlag(r.SoundAlarm)),
	}, ",")
}

// Encode формирует строку в указанном формате
func Encode(variant Variant, r models.Reading) string {
	if variant == VariantPositional {
		return EncodePositional(DefaultTag, r)
	}
	return EncodeKeyValue(r)
}
