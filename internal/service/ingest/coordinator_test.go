package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/infrastructure/logger"
	"sensorlink/internal/service/connection"
	"sensorlink/internal/service/decoder"
	"sensorlink/internal/service/session"
)

const waitTimeout = 2 * time.Second

// MockRepository - хранилище в памяти
type MockRepository struct {
	OnInsert func(r models.StoredReading) error
	OnExists func(id string) (bool, error)

	mu   sync.Mutex
	rows []models.StoredReading
}

func (m *MockRepository) SessionExists(ctx context.Context, id string) (bool, error) {
	if m.OnExists != nil {
		return m.OnExists(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SessionID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) InsertReading(ctx context.Context, r models.StoredReading) (int64, error) {
	if m.OnInsert != nil {
		if err := m.OnInsert(r); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, r)
	return r.ID, nil
}

func (m *MockRepository) DistinctSessionIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (m *MockRepository) QueryReadings(ctx context.Context, f models.ReadingFilter) ([]models.StoredReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.StoredReading, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

func (m *MockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fakePort struct {
	*io.PipeReader
	w *io.PipeWriter
}

// MockTransport выдает новый fakePort на каждое открытие
type MockTransport struct {
	OnOpen func(name string) (io.ReadCloser, error)
	opened chan *fakePort
}

func newMockTransport() *MockTransport {
	return &MockTransport{opened: make(chan *fakePort, 4)}
}

func (m *MockTransport) ListPorts() ([]string, error) {
	return []string{"COM3", "COM1"}, nil
}

func (m *MockTransport) Open(name string, baudRate int) (io.ReadCloser, error) {
	if m.OnOpen != nil {
		return m.OnOpen(name)
	}
	r, w := io.Pipe()
	p := &fakePort{PipeReader: r, w: w}
	m.opened <- p
	return p, nil
}

func (m *MockTransport) next(t *testing.T) *fakePort {
	t.Helper()
	select {
	case p := <-m.opened:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("порт не был открыт")
		return nil
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	c         *Coordinator
	repo      *MockRepository
	transport *MockTransport
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      &MockRepository{},
		transport: newMockTransport(),
		clock:     &fakeClock{now: time.Date(2024, 3, 15, 14, 30, 5, 0, time.Local)},
	}
	c, err := NewCoordinator(f.transport, f.repo, logger.Discard(), Options{
		Variant: decoder.VariantKeyValue,
		Clock:   f.clock.Now,
	})
	require.NoError(t, err)
	f.c = c
	t.Cleanup(func() { c.Disconnect() })
	return f
}

func (f *fixture) connect(t *testing.T) *fakePort {
	t.Helper()
	require.NoError(t, f.c.Connect("COM3"))
	return f.transport.next(t)
}

func (f *fixture) subscribe() <-chan models.StoredReading {
	ch := make(chan models.StoredReading, 16)
	f.c.AddReadingListener(func(r models.StoredReading) { ch <- r })
	return ch
}

func writeLine(t *testing.T, p *fakePort, line string) {
	t.Helper()
	_, err := p.w.Write([]byte(line + "\r\n"))
	require.NoError(t, err)
}

func receive(t *testing.T, ch <-chan models.StoredReading) models.StoredReading {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("уведомление не получено")
		return models.StoredReading{}
	}
}

func TestCoordinatorStoresReadingWithElapsedTime(t *testing.T) {
	f := newFixture(t)
	notified := f.subscribe()
	p := f.connect(t)
	assert.Equal(t, models.StatusConnected, f.c.Status().Status)

	id, err := f.c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, "S1", id)

	f.clock.Advance(3200 * time.Millisecond)
	writeLine(t, p, "TEMP:25.1,HUM:55,S1:300")

	got := receive(t, notified)
	assert.Equal(t, "S1", got.SessionID)
	assert.InDelta(t, 3.2, got.ElapsedSeconds, 1e-9)
	assert.Equal(t, 25.1, got.Temperature)
	assert.Equal(t, 55.0, got.Humidity)
	assert.Equal(t, 300, got.Sound1)
	assert.Equal(t, f.clock.Now(), got.Timestamp)
	assert.Equal(t, int64(1), got.ID)

	live := f.c.Live()
	assert.Equal(t, "Temp: 25.1", live.Dashboard.Temperature)
	require.NotNil(t, live.Last)
	assert.Equal(t, got, *live.Last)
	assert.Equal(t, 1, f.c.Stats().Stored)
}

func TestCoordinatorFieldErrorIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	notified := f.subscribe()
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S2")
	require.NoError(t, err)

	writeLine(t, p, "TEMP:xx,HUM:40")
	writeLine(t, p, "LIGHT:120")

	// Первое уведомление относится уже ко второй строке
	got := receive(t, notified)
	assert.Equal(t, 120, got.Light)
	assert.Equal(t, 40.0, got.Humidity, "влажность из отброшенной строки остается в состоянии")
	assert.Equal(t, 1, f.repo.count())

	live := f.c.Live()
	assert.Equal(t, "Temp: N/A", live.Dashboard.Temperature)
	assert.Equal(t, "Humidity: 40", live.Dashboard.Humidity)
	assert.Equal(t, 1, f.c.Stats().FieldErrors)
}

func TestCoordinatorUpdatesLiveStateWithoutRecording(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)

	writeLine(t, p, "TEMP:19.5")
	writeLine(t, p, "garbage")

	require.Eventually(t, func() bool { return f.c.Stats().Lines == 2 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, "Temp: 19.5", f.c.Live().Dashboard.Temperature)
	assert.Equal(t, 1, f.c.Stats().Rejected)
	assert.Zero(t, f.repo.count())
}

func TestCoordinatorListenerRemovalDuringDispatch(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "")
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []string
	record := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, name)
	}

	done := make(chan struct{}, 4)
	idA := f.c.AddListener(func() { record("A") })
	f.c.AddListener(func() {
		record("B")
		f.c.RemoveListener(idA)
	})
	f.c.AddListener(func() {
		record("C")
		done <- struct{}{}
	})

	for i := 0; i < 2; i++ {
		writeLine(t, p, "TEMP:20")
		select {
		case <-done:
		case <-time.After(waitTimeout):
			t.Fatal("рассылка не завершилась")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"A", "B", "C", "B", "C"}, calls)
	assert.Equal(t, 2, f.c.listeners.len())
}

func TestCoordinatorDisconnectMidLoopStopsNotifications(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S3")
	require.NoError(t, err)

	first := make(chan struct{}, 1)
	var later int
	var mu sync.Mutex
	f.c.AddListener(func() {
		f.c.Disconnect()
		first <- struct{}{}
	})
	f.c.AddListener(func() {
		mu.Lock()
		defer mu.Unlock()
		later++
	})

	writeLine(t, p, "TEMP:20")
	select {
	case <-first:
	case <-time.After(waitTimeout):
		t.Fatal("уведомление не получено")
	}

	mu.Lock()
	assert.Zero(t, later, "после отключения подписчики не вызываются")
	mu.Unlock()

	assert.Equal(t, models.StateDisconnected, f.c.ConnectionState())
	status := f.c.Status()
	assert.Equal(t, models.StatusDisconnectedByUser, status.Status)
	assert.False(t, status.Recording)
	assert.Empty(t, f.c.CurrentSessionID())

	_, err = p.w.Write([]byte("TEMP:21\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 1, f.repo.count())
}

func TestCoordinatorConnectionLostStopsRecording(t *testing.T) {
	f := newFixture(t)
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S4")
	require.NoError(t, err)

	p.w.CloseWithError(errors.New("device unplugged"))

	require.Eventually(t, func() bool {
		return f.c.Status().Status == models.StatusConnectionLost
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, models.StateFailed, f.c.ConnectionState())
	assert.Empty(t, f.c.CurrentSessionID())
	assert.Equal(t, "Connection lost: COM3", f.c.Status().Message)
}

func TestCoordinatorPersistenceFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	var failOnce sync.Once
	f.repo.OnInsert = func(models.StoredReading) error {
		var err error
		failOnce.Do(func() { err = errors.New("disk full") })
		return err
	}
	notified := f.subscribe()
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S5")
	require.NoError(t, err)

	writeLine(t, p, "TEMP:20")
	writeLine(t, p, "TEMP:21")

	got := receive(t, notified)
	assert.Equal(t, 21.0, got.Temperature)
	assert.Equal(t, "S5", f.c.CurrentSessionID())
	assert.Equal(t, 1, f.c.Stats().WriteFailures)
	assert.Equal(t, 1, f.repo.count())
}

func TestCoordinatorConnectFailureStopsRecording(t *testing.T) {
	f := newFixture(t)
	f.transport.OnOpen = func(name string) (io.ReadCloser, error) {
		return nil, errors.New("access denied")
	}
	_, err := f.c.StartRecording(context.Background(), "S6")
	require.NoError(t, err)

	err = f.c.Connect("COM9")
	assert.ErrorIs(t, err, connection.ErrPortOpen)
	assert.Empty(t, f.c.CurrentSessionID())

	status := f.c.Status()
	assert.Equal(t, models.StatusConnectFailed, status.Status)
	assert.Equal(t, "Failed to connect to COM9", status.Message)
	assert.Equal(t, "COM9", status.Port)

	err = f.c.Connect("")
	assert.ErrorIs(t, err, connection.ErrNoPortSelected)
	assert.Equal(t, "No port selected.", f.c.Status().Message)
}

func TestCoordinatorDuplicateSessionName(t *testing.T) {
	f := newFixture(t)
	f.repo.OnExists = func(id string) (bool, error) { return id == "taken", nil }

	_, err := f.c.StartRecording(context.Background(), "taken")
	assert.ErrorIs(t, err, session.ErrDuplicateSessionName)
	assert.Equal(t, "Error: Session name 'taken' already exists.", f.c.Status().Message)
	assert.False(t, f.c.Status().Recording)
}

func TestCoordinatorVariantAppliesOnNextConnect(t *testing.T) {
	f := newFixture(t)
	notified := f.subscribe()
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S7")
	require.NoError(t, err)

	require.NoError(t, f.c.SetVariant(decoder.VariantPositional))
	assert.Equal(t, decoder.VariantKeyValue, f.c.Live().Variant)

	writeLine(t, p, "TEMP:22")
	assert.Equal(t, 22.0, receive(t, notified).Temperature)

	p = f.connect(t)
	assert.Equal(t, decoder.VariantPositional, f.c.Live().Variant)
	_, err = f.c.StartRecording(context.Background(), "S7-positional")
	require.NoError(t, err)

	writeLine(t, p, "DUMMY,23.5,1,61.0,1,10,20,0")
	got := receive(t, notified)
	assert.Equal(t, 23.5, got.Temperature)
	assert.Equal(t, 61.0, got.Humidity)
	assert.True(t, got.FireAlarm)

	assert.Error(t, f.c.SetVariant("binary"))
}

func TestCoordinatorSwitchingPortStopsRecording(t *testing.T) {
	f := newFixture(t)
	notified := f.subscribe()
	first := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)

	require.NoError(t, f.c.Connect("COM1"))
	second := f.transport.next(t)
	assert.Empty(t, f.c.CurrentSessionID())
	assert.Equal(t, models.StatusConnected, f.c.Status().Status)
	assert.Equal(t, "COM1", f.c.Status().Port)

	// Старый порт закрыт
	_, err = first.w.Write([]byte("TEMP:1\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	// Без новой сессии показания нового порта не сохраняются
	writeLine(t, second, "TEMP:30")
	require.Eventually(t, func() bool {
		return f.c.Stats().Lines == 1
	}, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 0, f.repo.count())

	_, err = f.c.StartRecording(context.Background(), "S2")
	require.NoError(t, err)
	writeLine(t, second, "TEMP:31")
	got := receive(t, notified)
	assert.Equal(t, "S2", got.SessionID)
	assert.Equal(t, 31.0, got.Temperature)
}

func TestCoordinatorOversizedLineKeepsConnection(t *testing.T) {
	f := newFixture(t)
	notified := f.subscribe()
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)

	go func() {
		_, _ = p.w.Write(bytes.Repeat([]byte("x"), 70000))
		_, _ = p.w.Write([]byte("\nTEMP:25.0\n"))
	}()

	assert.Equal(t, 25.0, receive(t, notified).Temperature)
	assert.Equal(t, models.StateConnected, f.c.ConnectionState())
	assert.Equal(t, models.StatusConnected, f.c.Status().Status)
	assert.Equal(t, "S1", f.c.CurrentSessionID())
	assert.Equal(t, 1, f.c.Stats().Oversized)
}

func TestCoordinatorNonFiniteTemperatureIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	notified := f.subscribe()
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)

	writeLine(t, p, "TEMP:nan,HUM:55")
	writeLine(t, p, "TEMP:21.5")

	got := receive(t, notified)
	assert.Equal(t, 21.5, got.Temperature)
	assert.Equal(t, 55.0, got.Humidity)
	assert.Equal(t, 1, f.repo.count())
	assert.Equal(t, 1, f.c.Stats().FieldErrors)

	_, err = json.Marshal(f.c.Live())
	assert.NoError(t, err)
}

func TestCoordinatorDuplicateGeneratedName(t *testing.T) {
	f := newFixture(t)
	f.repo.OnExists = func(id string) (bool, error) { return true, nil }

	_, err := f.c.StartRecording(context.Background(), "  ")
	assert.ErrorIs(t, err, session.ErrDuplicateSessionName)
	assert.Equal(t, "Error: Session name 'Session-2024-03-15_14-30-05' already exists.", f.c.Status().Message)
}

func TestCoordinatorPortRemovedStopsRecording(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)

	assert.False(t, f.c.PortRemoved("COM1"))
	assert.Equal(t, "S1", f.c.CurrentSessionID())

	assert.True(t, f.c.PortRemoved("COM3"))
	assert.Empty(t, f.c.CurrentSessionID())
	status := f.c.Status()
	assert.Equal(t, models.StatusConnectionLost, status.Status)
	assert.Equal(t, "Connection lost: COM3", status.Message)
}

func TestCoordinatorListPorts(t *testing.T) {
	f := newFixture(t)
	list, err := f.c.ListPorts()
	require.NoError(t, err)
	assert.Equal(t, []string{"COM1", "COM3"}, list)
}

func TestCoordinatorListenerPanicDoesNotStopPipeline(t *testing.T) {
	f := newFixture(t)
	f.c.AddListener(func() { panic("boom") })
	notified := f.subscribe()
	p := f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S8")
	require.NoError(t, err)

	writeLine(t, p, "TEMP:20")
	assert.Equal(t, 20.0, receive(t, notified).Temperature)
}

func TestCoordinatorStatusHandler(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var seen []models.StatusInfo
	f.c.SetStatusHandler(func(s models.StatusInfo) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	f.connect(t)
	_, err := f.c.StartRecording(context.Background(), "S9")
	require.NoError(t, err)
	f.c.StopRecording()
	f.c.StopRecording()
	require.NoError(t, f.c.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	var statuses []models.Status
	for _, s := range seen {
		statuses = append(statuses, s.Status)
	}
	assert.Equal(t, []models.Status{
		models.StatusConnecting,
		models.StatusConnected,
		models.StatusConnected, // начало записи
		models.StatusConnected, // остановка записи
		models.StatusDisconnectedByUser,
	}, statuses)
	assert.True(t, seen[2].Recording)
	assert.Equal(t, "S9", seen[2].SessionID)
	assert.False(t, seen[3].Recording)
}
