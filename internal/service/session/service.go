package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/domain/ports"
)

var (
	ErrDuplicateSessionName = errors.New("session: session name already exists")
	ErrAlreadyRecording     = errors.New("session: recording already in progress")
	ErrNotRecording         = errors.New("session: not recording")
)

// DuplicateNameError сообщает, что сессия с таким ID уже есть в хранилище.
// Name - проверенный ID (для пустого имени - сгенерированный).
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%v: %q", ErrDuplicateSessionName, e.Name)
}

func (e *DuplicateNameError) Unwrap() error {
	return ErrDuplicateSessionName
}

// DuplicateName возвращает ID из DuplicateNameError, если err - ошибка дубликата
func DuplicateName(err error) (string, bool) {
	var de *DuplicateNameError
	if errors.As(err, &de) {
		return de.Name, true
	}
	return "", false
}

// idLayout - формат времени для автоматически сгенерированного ID сессии
const idLayout = "2006-01-02_15-04-05"

// State - состояние контроллера записи
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	if s == StateRecording {
		return "recording"
	}
	return "idle"
}

// existenceChecker - часть шлюза хранения, нужная для проверки уникальности имени
type existenceChecker interface {
	SessionExists(ctx context.Context, sessionID string) (bool, error)
}

// Controller управляет состоянием записи, идентификатором сессии и началом отсчета времени.
// Единственный изменяющий сессию компонент.
type Controller struct {
	repo existenceChecker
	log  ports.Logger
	now  func() time.Time

	mu          sync.Mutex
	state       State
	session     models.Session
	lastElapsed float64
}

// Option настраивает контроллер
type Option func(*Controller)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController создает контроллер записи в состоянии Idle
func NewController(repo existenceChecker, log ports.Logger, opts ...Option) *Controller {
	c := &Controller{
		repo: repo,
		log:  log,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRecording начинает новую сессию и возвращает ее ID.
// Пустое имя заменяется на "Session-<дата_время>". Проверка уникальности
// выполняется синхронно до активации; при ошибке состояние не меняется.
func (c *Controller) StartRecording(ctx context.Context, name string) (string, error) {
	candidate := strings.TrimSpace(name)
	if candidate == "" {
		candidate = "Session-" + c.now().Format(idLayout)
	}

	c.mu.Lock()
	recording := c.state == StateRecording
	c.mu.Unlock()
	if recording {
		return "", ErrAlreadyRecording
	}

	exists, err := c.repo.SessionExists(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("проверка имени сессии %q: %w", candidate, err)
	}
	if exists {
		return "", &DuplicateNameError{Name: candidate}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Пока шла проверка, запись могли запустить из другого места
	if c.state == StateRecording {
		return "", ErrAlreadyRecording
	}

	c.session = models.Session{
		ID:        candidate,
		StartedAt: c.now(),
		Active:    true,
	}
	c.lastElapsed = 0
	c.state = StateRecording
	c.log.Info("[SESSION] Начата запись сессии: %s", candidate)
	return candidate, nil
}

// StopRecording завершает запись. Повторный вызов ничего не делает.
// Возвращает ID остановленной сессии и true, если запись действительно шла.
func (c *Controller) StopRecording() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return "", false
	}

	id := c.session.ID
	c.state = StateIdle
	c.session = models.Session{}
	c.log.Info("[SESSION] Запись сессии остановлена: %s", id)
	return id, true
}

// ElapsedSeconds возвращает секунды от начала сессии по монотонным часам.
// Последовательные вызовы в одной сессии не убывают.
func (c *Controller) ElapsedSeconds() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return 0, ErrNotRecording
	}
	return c.elapsedLocked(), nil
}

// elapsedLocked вычисляет время сессии (должен вызываться только под мьютексом)
func (c *Controller) elapsedLocked() float64 {
	elapsed := c.now().Sub(c.session.StartedAt).Seconds()
	if elapsed < c.lastElapsed {
		elapsed = c.lastElapsed
	}
	c.lastElapsed = elapsed
	return elapsed
}

// Stamp атомарно возвращает ID активной сессии и время от ее начала.
// ok == false, если запись не идет.
func (c *Controller) Stamp() (sessionID string, elapsed float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return "", 0, false
	}
	return c.session.ID, c.elapsedLocked(), true
}

// CurrentSessionID возвращает ID активной сессии или пустую строку
func (c *Controller) CurrentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return ""
	}
	return c.session.ID
}

// State возвращает текущее состояние контроллера
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session возвращает копию активной сессии (Active == false, если записи нет)
func (c *Controller) Session() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
