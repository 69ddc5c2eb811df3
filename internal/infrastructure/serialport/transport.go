package serialport

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Параметры линии устройства: 8 бит данных, без четности, 1 стоп-бит
const (
	dataBits        = 8
	defaultBaudRate = 9600
)

// Transport открывает настоящие последовательные порты через go.bug.st/serial
type Transport struct{}

// NewTransport создаёт транспорт последовательных портов
func NewTransport() *Transport {
	return &Transport{}
}

// ListPorts возвращает имена доступных портов
func (t *Transport) ListPorts() ([]string, error) {
	list, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка портов: %w", err)
	}
	return list, nil
}

// Open открывает порт на чтение. Чтение блокируется без таймаута
// до прихода данных или закрытия порта.
func (t *Transport) Open(name string, baudRate int) (io.ReadCloser, error) {
	return OpenPort(name, baudRate)
}

// OpenPort открывает порт в режиме 8N1 и сбрасывает накопленный входной буфер
func OpenPort(name string, baudRate int) (serial.Port, error) {
	if baudRate <= 0 {
		baudRate = defaultBaudRate
	}
	mode := ModeFor(baudRate)

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия COM-порта %s: %w", name, err)
	}
	if err := port.SetReadTimeout(serial.NoTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("ошибка настройки таймаута %s: %w", name, err)
	}
	// Старые данные в буфере драйвера могут содержать обрывок строки
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("ошибка очистки буфера %s: %w", name, err)
	}
	return port, nil
}

// ModeFor возвращает режим линии для заданной скорости
func ModeFor(baudRate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}
