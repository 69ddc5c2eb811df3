package viewmodel

import (
	"strconv"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/service/decoder"
)

// Подписи, которые показываются до получения первого значения
const (
	notAvailable = "N/A"
)

// DashboardViewModel хранит текстовое представление последних показаний для панели.
// Обновляется из цикла чтения, читается через снимок (см. ingest.Coordinator.Live).
type DashboardViewModel struct {
	Temperature string `json:"temperature"`
	Humidity    string `json:"humidity"`
	Light       string `json:"light"`
	FireAlarm   string `json:"fireAlarm"`
	Sound1      string `json:"sound1"`
	Sound2      string `json:"sound2"`
	SoundAlarm  string `json:"soundAlarm"`

	// Последние известные значения всех полей
	Reading models.Reading `json:"reading"`
}

// NewDashboardViewModel создаёт модель с подписями по умолчанию.
func NewDashboardViewModel() *DashboardViewModel {
	return &DashboardViewModel{
		Temperature: "Temp: " + notAvailable,
		Humidity:    "Humidity: " + notAvailable,
		Light:       "Light: " + notAvailable,
		FireAlarm:   "Fire Alarm: OFF",
		Sound1:      "Sound 1: " + notAvailable,
		Sound2:      "Sound 2: " + notAvailable,
		SoundAlarm:  "Sound Alarm: OFF",
	}
}

// Apply обновляет подписи полей, которые изменила последняя строка.
// Подписи зависят от формата: позиционный формат передает флаги и показывает их словами.
func (vm *DashboardViewModel) Apply(variant decoder.Variant, res decoder.Result) {
	vm.Reading = res.Reading
	r := res.Reading

	for _, f := range res.Updated {
		switch f {
		case models.FieldTemperature:
			vm.Temperature = "Temp: " + formatFloat(r.Temperature, variant)
		case models.FieldHumidity:
			if variant == decoder.VariantPositional {
				vm.Humidity = "Humidity: % " + strconv.FormatFloat(r.Humidity, 'f', 1, 64)
			} else {
				vm.Humidity = "Humidity: " + strconv.Itoa(int(r.Humidity))
			}
		case models.FieldLight:
			if variant == decoder.VariantPositional {
				vm.Light = "Light: " + choose(r.Light != 0, "On", "Off")
			} else {
				vm.Light = "Light: " + strconv.Itoa(r.Light)
			}
		case models.FieldFire:
			if variant == decoder.VariantPositional {
				vm.FireAlarm = "Fire Alarm: " + choose(r.FireAlarm, "Hot", "Convenient")
			} else {
				vm.FireAlarm = "Fire Alarm: " + choose(r.FireAlarm, "ON", "OFF")
			}
		case models.FieldSound1:
			vm.Sound1 = "Sound 1: " + soundLabel(r.Sound1, variant)
		case models.FieldSound2:
			vm.Sound2 = "Sound 2: " + soundLabel(r.Sound2, variant)
		case models.FieldSoundAlarm:
			if variant == decoder.VariantPositional {
				vm.SoundAlarm = "Sound Alarm: " + choose(r.SoundAlarm, "Loud", "Chill")
			} else {
				vm.SoundAlarm = "Sound Alarm: " + choose(r.SoundAlarm, "ON", "OFF")
			}
		}
	}
}

// Snapshot возвращает копию модели для чтения из других горутин
func (vm *DashboardViewModel) Snapshot() DashboardViewModel {
	return *vm
}

func soundLabel(v int, variant decoder.Variant) string {
	if variant == decoder.VariantPositional {
		return choose(v != 0, "Noisy", "Quiet")
	}
	return strconv.Itoa(v)
}

func formatFloat(v float64, variant decoder.Variant) string {
	if variant == decoder.VariantPositional {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
