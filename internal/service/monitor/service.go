package monitor

import (
	"context"
	"sync"
	"time"

	"sensorlink/internal/domain/ports"
)

const defaultPollInterval = 5 * time.Second

// portLister - источник списка портов (сессия порта или координатор)
type portLister interface {
	ListPorts() ([]string, error)
}

// PortsState - снимок списка портов и его последнее изменение
type PortsState struct {
	Ports      []string  `json:"ports"`
	Added      []string  `json:"added,omitempty"`
	Removed    []string  `json:"removed,omitempty"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// Config содержит конфигурацию опроса
type Config struct {
	PollInterval time.Duration // Интервал опроса
	InitialDelay time.Duration // Пауза перед первым опросом
}

// Service периодически опрашивает список последовательных портов
// и сообщает о появлении и исчезновении устройств.
type Service struct {
	lister         portLister
	log            ports.Logger
	config         Config
	state          PortsState
	cancel         context.CancelFunc
	done           chan struct{}
	mutex          sync.Mutex
	isPaused       bool
	updateCallback func(PortsState)
}

// NewService создает новый экземпляр сервиса мониторинга
func NewService(lister portLister, log ports.Logger, cfg Config) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Service{
		lister: lister,
		log:    log,
		config: cfg,
	}
}

// Start запускает мониторинг. Повторный вызов перезапускает опрос.
func (s *Service) Start() {
	s.Stop()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.monitorRoutine(ctx, s.done)
	s.log.Info("[MONITOR] Мониторинг портов запущен (интервал %s)", s.config.PollInterval)
}

// Stop останавливает мониторинг и ждет завершения горутины опроса
func (s *Service) Stop() {
	s.mutex.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("[MONITOR] Мониторинг портов остановлен")
}

// Pause приостанавливает мониторинг
func (s *Service) Pause() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.isPaused = true
}

// Resume возобновляет мониторинг
func (s *Service) Resume() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.isPaused = false
}

// SetUpdateCallback устанавливает callback изменения списка портов.
// Вызывается из горутины опроса.
func (s *Service) SetUpdateCallback(fn func(PortsState)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.updateCallback = fn
}

// currentState возвращает копию последнего снимка
func (s *Service) currentState() PortsState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.getStateCopy()
}

// monitorRoutine - основная горутина мониторинга
func (s *Service) monitorRoutine(ctx context.Context, done chan struct{}) {
	defer close(done)

	if s.config.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.InitialDelay):
		}
	}

	s.poll()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.mutex.Lock()
			paused := s.isPaused
			s.mutex.Unlock()
			if paused {
				continue
			}
			s.poll()
		}
	}
}

// poll опрашивает список портов и уведомляет при изменении
func (s *Service) poll() {
	list, err := s.lister.ListPorts()
	if err != nil {
		s.log.Debug("[MONITOR] Ошибка получения списка портов: %v", err)
		return
	}

	s.mutex.Lock()
	first := s.state.LastUpdate.IsZero()
	added, removed := diff(s.state.Ports, list)
	changed := first || len(added) > 0 || len(removed) > 0
	s.state = PortsState{
		Ports:      append([]string(nil), list...),
		Added:      added,
		Removed:    removed,
		LastUpdate: time.Now(),
	}
	callback := s.updateCallback
	stateCopy := s.getStateCopy()
	s.mutex.Unlock()

	if !changed {
		return
	}
	if !first {
		for _, p := range added {
			s.log.Info("[MONITOR] Обнаружен порт %s", p)
		}
	}
	for _, p := range removed {
		s.log.Warn("[MONITOR] Порт %s пропал", p)
	}
	if callback != nil {
		callback(stateCopy)
	}
}

// getStateCopy возвращает копию состояния (только под мьютексом)
func (s *Service) getStateCopy() PortsState {
	return PortsState{
		Ports:      append([]string(nil), s.state.Ports...),
		Added:      append([]string(nil), s.state.Added...),
		Removed:    append([]string(nil), s.state.Removed...),
		LastUpdate: s.state.LastUpdate,
	}
}

func diff(prev, next []string) (added, removed []string) {
	seen := make(map[string]bool, len(prev))
	for _, p := range prev {
		seen[p] = true
	}
	current := make(map[string]bool, len(next))
	for _, p := range next {
		current[p] = true
		if !seen[p] {
			added = append(added, p)
		}
	}
	for _, p := range prev {
		if !current[p] {
			removed = append(removed, p)
		}
	}
	return added, removed
}
