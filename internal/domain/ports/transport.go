package ports

import "io"

// SerialTransport абстрагирует доступ к последовательным портам системы.
type SerialTransport interface {
	// ListPorts возвращает идентификаторы доступных портов
	ListPorts() ([]string, error)

	// Open открывает порт с заданной скоростью. Чтение из возвращенного
	// потока блокируется до поступления данных; Close прерывает ожидающее чтение.
	Open(name string, baudRate int) (io.ReadCloser, error)
}
