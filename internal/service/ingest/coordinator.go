package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/domain/ports"
	"sensorlink/internal/service/connection"
	"sensorlink/internal/service/decoder"
	"sensorlink/internal/service/session"
	"sensorlink/internal/ui/viewmodel"
)

const defaultWriteTimeout = 5 * time.Second

// Options - параметры конвейера приема
type Options struct {
	Variant      decoder.Variant  // Формат строк (для следующего подключения)
	BaudRate     int              // 0 - 9600
	Encoding     string           // Кодировка потока, по умолчанию utf-8
	WriteTimeout time.Duration    // Таймаут записи одного показания в хранилище
	Clock        func() time.Time // Источник времени (для тестов)
}

// Stats - счетчики обработанных строк
type Stats struct {
	Lines         int `json:"lines"`
	Rejected      int `json:"rejected"`      // Строки без единого распознанного поля или с неполным набором полей
	FieldErrors   int `json:"fieldErrors"`   // Строки с ошибками разбора полей
	Stored        int `json:"stored"`        // Успешно записанные показания
	WriteFailures int `json:"writeFailures"` // Ошибки записи в хранилище
	Oversized     int `json:"oversized"`     // Строки длиннее connection.MaxLineLength

	DeliveryDropped int `json:"deliveryDropped"` // Уведомления, отброшенные очередью доставки
}

// LiveState - снимок текущих показаний для панели
type LiveState struct {
	Variant   decoder.Variant              `json:"variant"`
	Dashboard viewmodel.DashboardViewModel `json:"dashboard"`
	Last      *models.StoredReading        `json:"lastStored,omitempty"`
}

// Coordinator связывает сессию порта, декодер строк, контроллер записи и хранилище,
// рассылает уведомления о новых записанных показаниях.
type Coordinator struct {
	log          ports.Logger
	repo         ports.ReadingRepository
	sessions     *session.Controller
	port         *connection.Service
	now          func() time.Time
	baudRate     int
	writeTimeout time.Duration

	listeners listenerSet

	// connMu упорядочивает Connect/Disconnect между собой
	connMu sync.Mutex

	mu            sync.RWMutex
	variant       decoder.Variant
	activeVariant decoder.Variant
	dashboard     *viewmodel.DashboardViewModel
	status        models.Status
	message       string
	lastStored    *models.StoredReading
	stats         Stats
	onStatus      func(models.StatusInfo)
}

// NewCoordinator создает конвейер приема. Хранилище передается явно.
func NewCoordinator(transport ports.SerialTransport, repo ports.ReadingRepository, log ports.Logger, opts Options) (*Coordinator, error) {
	variant, err := decoder.ParseVariant(string(opts.Variant))
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	c := &Coordinator{
		log:           log,
		repo:          repo,
		sessions:      session.NewController(repo, log, session.WithClock(opts.Clock)),
		port:          connection.NewService(transport, log),
		now:           opts.Clock,
		baudRate:      opts.BaudRate,
		writeTimeout:  opts.WriteTimeout,
		variant:       variant,
		activeVariant: variant,
		dashboard:     viewmodel.NewDashboardViewModel(),
		status:        models.StatusNotConnected,
		message:       "Not Connected",
	}
	if err := c.port.SetEncoding(opts.Encoding); err != nil {
		return nil, err
	}
	c.port.SetStateHandler(c.onPortState)
	return c, nil
}

// SetStatusHandler устанавливает callback смены статуса. Может вызываться
// под блокировкой сессии порта, поэтому не должен блокироваться и обращаться
// к Coordinator (см. dispatch.WrapValue).
func (c *Coordinator) SetStatusHandler(fn func(models.StatusInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = fn
}

// SetVariant задает формат строк. Применяется при следующем Connect,
// текущее подключение продолжает работать в прежнем формате.
func (c *Coordinator) SetVariant(v decoder.Variant) error {
	variant, err := decoder.ParseVariant(string(v))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variant = variant
	return nil
}

// ListPorts возвращает доступные последовательные порты
func (c *Coordinator) ListPorts() ([]string, error) {
	list, err := c.port.ListPorts()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		c.log.Warn("[INGEST] Последовательные порты не найдены")
		c.mu.Lock()
		if c.status == models.StatusNotConnected {
			c.message = "No serial ports found."
		}
		c.mu.Unlock()
	}
	return list, nil
}

// Connect открывает порт и начинает прием. Ошибка подключения останавливает запись.
// Если открыт другой порт, он закрывается, а текущая запись завершается:
// сессия не смешивает показания двух устройств.
func (c *Coordinator) Connect(portName string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	variant := c.variant
	c.mu.Unlock()

	// Декодер привязан к подключению: формат не меняется посреди потока
	dec, err := decoder.New(variant)
	if err != nil {
		return err
	}
	if state := c.port.State(); state == models.StateConnected || state == models.StateConnecting {
		c.stopRecording("переключение порта")
	}

	c.port.SetLineHandler(func(ctx context.Context, line string) {
		c.onLine(ctx, dec, line)
	})

	if err := c.port.Open(portName, c.baudRate); err != nil {
		c.stopRecording("подключение не удалось")
		return err
	}

	c.mu.Lock()
	c.activeVariant = variant
	c.mu.Unlock()
	return nil
}

// Disconnect останавливает запись и закрывает порт
func (c *Coordinator) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.stopRecording("отключение пользователем")
	return c.port.Close()
}

// PortRemoved обрабатывает исчезновение порта из системы: если он открыт,
// подключение завершается как потеря связи (запись останавливается).
func (c *Coordinator) PortRemoved(portName string) bool {
	return c.port.MarkLost(portName, connection.ErrPortRemoved)
}

// StartRecording начинает сессию записи (см. session.Controller.StartRecording)
func (c *Coordinator) StartRecording(ctx context.Context, name string) (string, error) {
	id, err := c.sessions.StartRecording(ctx, name)
	if err != nil {
		if candidate, ok := session.DuplicateName(err); ok {
			c.mu.Lock()
			c.message = fmt.Sprintf("Error: Session name '%s' already exists.", candidate)
			c.mu.Unlock()
		}
		return "", err
	}
	c.emitStatus(c.Status())
	return id, nil
}

// StopRecording останавливает запись; повторный вызов ничего не делает
func (c *Coordinator) StopRecording() {
	if c.stopRecording("остановлено пользователем") {
		c.emitStatus(c.Status())
	}
}

func (c *Coordinator) stopRecording(reason string) bool {
	id, stopped := c.sessions.StopRecording()
	if stopped {
		c.log.Info("[INGEST] Запись %s завершена: %s", id, reason)
	}
	return stopped
}

func (c *Coordinator) emitStatus(info models.StatusInfo) {
	c.mu.RLock()
	fn := c.onStatus
	c.mu.RUnlock()
	if fn != nil {
		fn(info)
	}
}

// CurrentSessionID возвращает ID активной сессии или пустую строку
func (c *Coordinator) CurrentSessionID() string {
	return c.sessions.CurrentSessionID()
}

// ConnectionState возвращает состояние порта
func (c *Coordinator) ConnectionState() models.ConnectionState {
	return c.port.State()
}

// Status возвращает согласованный снимок статуса для пользователя
func (c *Coordinator) Status() models.StatusInfo {
	// Порт и сессия читаются до c.mu: onPortState берет c.mu под блокировкой порта
	sessionID := c.sessions.CurrentSessionID()
	portName := c.port.PortName()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.StatusInfo{
		Status:    c.status,
		Message:   c.message,
		Port:      portName,
		SessionID: sessionID,
		Recording: sessionID != "",
	}
}

// Live возвращает снимок последних показаний
func (c *Coordinator) Live() LiveState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := LiveState{
		Variant:   c.activeVariant,
		Dashboard: c.dashboard.Snapshot(),
	}
	if c.lastStored != nil {
		last := *c.lastStored
		state.Last = &last
	}
	return state
}

// Stats возвращает копию счетчиков
func (c *Coordinator) Stats() Stats {
	oversized := c.port.Discarded()

	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := c.stats
	stats.Oversized = oversized
	return stats
}

// AddListener подписывает callback без аргументов на каждое записанное показание
func (c *Coordinator) AddListener(fn func()) ListenerID {
	return c.listeners.add(func(models.StoredReading) { fn() })
}

// AddReadingListener подписывает callback, получающий записанное показание
func (c *Coordinator) AddReadingListener(fn func(models.StoredReading)) ListenerID {
	return c.listeners.add(fn)
}

// RemoveListener отписывает подписчика. Возвращает false, если он не найден.
func (c *Coordinator) RemoveListener(id ListenerID) bool {
	return c.listeners.remove(id)
}

// onPortState вызывается сессией порта под ее блокировкой: методы порта здесь не вызываются
func (c *Coordinator) onPortState(state models.ConnectionState, port string, cause error) {
	var status models.Status
	var message string

	switch state {
	case models.StateConnecting:
		status, message = models.StatusConnecting, "Connecting to "+port
	case models.StateConnected:
		status, message = models.StatusConnected, "Connected to "+port
	case models.StateDisconnected:
		status, message = models.StatusDisconnectedByUser, "Disconnected"
	case models.StateFailed:
		switch {
		case errors.Is(cause, connection.ErrConnectionLost):
			c.stopRecording("потеря связи")
			status, message = models.StatusConnectionLost, "Connection lost: "+port
		case errors.Is(cause, connection.ErrNoPortSelected):
			c.stopRecording("порт не выбран")
			status, message = models.StatusConnectFailed, "No port selected."
		default:
			c.stopRecording("подключение не удалось")
			status, message = models.StatusConnectFailed, "Failed to connect to "+port
		}
	}

	c.mu.Lock()
	c.status = status
	c.message = message
	c.mu.Unlock()

	sessionID := c.sessions.CurrentSessionID()
	c.emitStatus(models.StatusInfo{
		Status:    status,
		Message:   message,
		Port:      port,
		SessionID: sessionID,
		Recording: sessionID != "",
	})
}

// onLine обрабатывает одну строку. Вызывается только из горутины чтения порта.
func (c *Coordinator) onLine(ctx context.Context, dec *decoder.Decoder, line string) {
	res, decodeErr := dec.Decode(line)

	c.mu.Lock()
	c.stats.Lines++
	if errors.Is(decodeErr, decoder.ErrEmptyLine) || errors.Is(decodeErr, decoder.ErrFieldCount) {
		c.stats.Rejected++
		c.mu.Unlock()
		if line != "" {
			c.log.Warn("[INGEST] Строка отброшена (%v): %q", decodeErr, line)
		}
		return
	}
	// Панель обновляется всегда, даже без записи
	c.dashboard.Apply(dec.Variant(), res)
	if decodeErr != nil {
		c.stats.FieldErrors++
	}
	c.mu.Unlock()

	if decodeErr != nil {
		c.log.Warn("[INGEST] Показание не сохранено, поля с ошибкой %v: %v", decoder.FailedFields(decodeErr), decodeErr)
		return
	}

	if ctx.Err() != nil {
		return
	}

	sessionID, elapsed, ok := c.sessions.Stamp()
	if !ok {
		return
	}

	stored := models.StoredReading{
		SessionID:      sessionID,
		Timestamp:      c.now(),
		ElapsedSeconds: elapsed,
		Reading:        res.Reading,
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	id, err := c.repo.InsertReading(writeCtx, stored)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.stats.WriteFailures++
		c.mu.Unlock()
		c.log.Error("[INGEST] Не удалось сохранить показание сессии %s: %v", sessionID, err)
		return
	}
	stored.ID = id

	c.mu.Lock()
	c.stats.Stored++
	c.lastStored = &stored
	c.mu.Unlock()

	c.notify(ctx, stored)
}

// notify вызывает подписчиков синхронно, в порядке регистрации
func (c *Coordinator) notify(ctx context.Context, stored models.StoredReading) {
	for _, l := range c.listeners.snapshot() {
		if ctx.Err() != nil {
			return
		}
		c.invoke(l, stored)
	}
}

func (c *Coordinator) invoke(l listenerEntry, stored models.StoredReading) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("[INGEST] Паника в подписчике %d: %v", l.id, r)
		}
	}()
	l.fn(stored)
}
