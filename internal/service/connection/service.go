package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/html/charset"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/domain/ports"
)

var (
	ErrPortOpen            = errors.New("connection: cannot open port")
	ErrNoPortSelected      = errors.New("connection: no port selected")
	ErrConnectionLost      = errors.New("connection: connection lost")
	ErrUnsupportedEncoding = errors.New("connection: unsupported encoding")
	ErrPortRemoved         = errors.New("connection: port removed from system")
)

// DefaultBaudRate - скорость канала устройства
const DefaultBaudRate = 9600

// DefaultEncoding - кодировка потока по умолчанию
const DefaultEncoding = "utf-8"

// MaxLineLength - максимальная длина строки телеметрии вместе с переводом строки
const MaxLineLength = 4096

// LineHandler получает каждую полную строку из порта. Вызывается из горутины
// чтения, последовательно. ctx отменяется при закрытии подключения.
type LineHandler func(ctx context.Context, line string)

// StateHandler получает смену состояния подключения вместе с причиной.
// Вызывается под внутренней блокировкой Service: методы Service из него вызывать нельзя.
type StateHandler func(state models.ConnectionState, port string, cause error)

// Service владеет одним открытым портом и циклом чтения из него.
// Единственный изменяющий ConnectionState компонент.
type Service struct {
	transport ports.SerialTransport
	log       ports.Logger

	mu       sync.Mutex
	encoding string
	state    models.ConnectionState
	portName string
	port     io.ReadCloser
	cancel   context.CancelFunc
	gen      uint64
	onLine   LineHandler
	onState  StateHandler

	discarded atomic.Int64
}

// NewService создает сессию порта в состоянии Disconnected
func NewService(transport ports.SerialTransport, log ports.Logger) *Service {
	return &Service{
		transport: transport,
		log:       log,
		encoding:  DefaultEncoding,
		state:     models.StateDisconnected,
	}
}

// SetLineHandler устанавливает приемник строк
func (s *Service) SetLineHandler(fn LineHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLine = fn
}

// SetStateHandler устанавливает callback смены состояния
func (s *Service) SetStateHandler(fn StateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// SetEncoding задает кодировку потока (метка IANA/WHATWG: "utf-8", "windows-1251", ...).
// Применяется при следующем Open.
func (s *Service) SetEncoding(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultEncoding
	}
	if e, _ := charset.Lookup(label); e == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, label)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoding = label
	return nil
}

// ListPorts возвращает отсортированный список доступных портов
func (s *Service) ListPorts() ([]string, error) {
	portsList, err := s.transport.ListPorts()
	if err != nil {
		return nil, err
	}
	sort.Strings(portsList)
	return portsList, nil
}

// State возвращает текущее состояние подключения
func (s *Service) State() models.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PortName возвращает имя текущего (или последнего) порта
func (s *Service) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portName
}

// Open открывает порт и запускает цикл чтения. Уже открытый порт сначала закрывается.
// baudRate <= 0 означает скорость по умолчанию (9600).
func (s *Service) Open(name string, baudRate int) error {
	name = strings.TrimSpace(name)
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		s.log.Info("[PORT] Закрываем %s перед открытием нового порта", s.portName)
		s.closeLocked()
	}

	s.portName = name
	if name == "" {
		s.setStateLocked(models.StateFailed, ErrNoPortSelected)
		return ErrNoPortSelected
	}

	s.setStateLocked(models.StateConnecting, nil)

	port, err := s.transport.Open(name, baudRate)
	if err != nil {
		err = fmt.Errorf("%w %s: %v", ErrPortOpen, name, err)
		s.log.Error("[PORT] %v", err)
		s.setStateLocked(models.StateFailed, err)
		return err
	}

	reader, err := charset.NewReaderLabel(s.encoding, port)
	if err != nil {
		port.Close()
		err = fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
		s.setStateLocked(models.StateFailed, err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.gen++
	s.port = port
	s.cancel = cancel
	s.setStateLocked(models.StateConnected, nil)
	s.log.Info("[PORT] Подключено к %s (%d бод, %s)", name, baudRate, s.encoding)

	go s.readLoop(ctx, s.gen, reader, s.onLine)
	return nil
}

// Close останавливает цикл чтения и освобождает порт. Безопасен при повторном вызове.
// Не ждет завершения ожидающего чтения: цикл увидит отмену на следующей итерации.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		if s.state != models.StateDisconnected {
			s.setStateLocked(models.StateDisconnected, nil)
		}
		return nil
	}

	err := s.closeLocked()
	s.log.Info("[PORT] Порт %s закрыт", s.portName)
	return err
}

// closeLocked закрывает порт (должен вызываться только под мьютексом)
func (s *Service) closeLocked() error {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	var err error
	if s.port != nil {
		err = s.port.Close()
		s.port = nil
	}
	s.setStateLocked(models.StateDisconnected, nil)
	return err
}

// setStateLocked меняет состояние и уведомляет подписчика (только под мьютексом)
func (s *Service) setStateLocked(state models.ConnectionState, cause error) {
	s.state = state
	if s.onState != nil {
		s.onState(state, s.portName, cause)
	}
}

// readLoop - горутина чтения: блокируется до следующей полной строки.
// Строка длиннее MaxLineLength (шум, несовпадение скорости) отбрасывается целиком
// до ближайшего перевода строки, подключение при этом не разрывается.
func (s *Service) readLoop(ctx context.Context, gen uint64, r io.Reader, onLine LineHandler) {
	reader := bufio.NewReaderSize(r, MaxLineLength)
	oversized := false
	for {
		chunk, err := reader.ReadSlice('\n')
		if ctx.Err() != nil {
			// Порт закрыт пользователем
			return
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			if !oversized {
				oversized = true
				s.discarded.Add(1)
				s.log.Warn("[PORT] Строка длиннее %d байт отброшена", MaxLineLength)
			}
			continue
		}

		if len(chunk) > 0 {
			if oversized {
				// Хвост слишком длинной строки
				oversized = false
			} else if onLine != nil {
				onLine(ctx, strings.TrimRight(string(chunk), "\r\n"))
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fail(gen, err)
			return
		}
	}
}

// Discarded возвращает количество строк, отброшенных из-за превышения MaxLineLength
func (s *Service) Discarded() int {
	return int(s.discarded.Load())
}

// fail переводит подключение в Failed после ошибки чтения, если оно еще актуально
func (s *Service) fail(gen uint64, readErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.port == nil {
		return
	}
	s.failLocked(readErr)
}

// MarkLost переводит подключение в Failed с ErrConnectionLost, если сейчас открыт порт name.
// Нужен, когда порт исчез из системы, а ожидающее чтение еще не вернуло ошибку.
func (s *Service) MarkLost(name string, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil || s.portName != name {
		return false
	}
	s.failLocked(cause)
	return true
}

func (s *Service) failLocked(cause error) {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.port.Close()
	s.port = nil

	err := fmt.Errorf("%w: %s: %v", ErrConnectionLost, s.portName, cause)
	s.log.Warn("[PORT] %v", err)
	s.setStateLocked(models.StateFailed, err)
}
