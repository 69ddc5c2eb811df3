package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensorlink/internal/infrastructure/logger"
)

// MockChecker - мок проверки существования сессии
type MockChecker struct {
	OnSessionExists func(ctx context.Context, id string) (bool, error)
	calls           []string
}

func (m *MockChecker) SessionExists(ctx context.Context, id string) (bool, error) {
	m.calls = append(m.calls, id)
	if m.OnSessionExists != nil {
		return m.OnSessionExists(ctx, id)
	}
	return false, nil
}

// fakeClock - управляемые часы
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

func newController(t *testing.T, repo *MockChecker) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 3, 15, 14, 30, 5, 0, time.Local)}
	return NewController(repo, logger.Discard(), WithClock(clock.Now)), clock
}

func TestStartRecordingWithName(t *testing.T) {
	repo := &MockChecker{}
	c, _ := newController(t, repo)

	id, err := c.StartRecording(context.Background(), "  Опыт-1 ")
	require.NoError(t, err)

	assert.Equal(t, "Опыт-1", id)
	assert.Equal(t, StateRecording, c.State())
	assert.Equal(t, "Опыт-1", c.CurrentSessionID())
	assert.Equal(t, []string{"Опыт-1"}, repo.calls)
	assert.True(t, c.Session().Active)
}

func TestStartRecordingSynthesizesID(t *testing.T) {
	c, _ := newController(t, &MockChecker{})

	id, err := c.StartRecording(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Session-2024-03-15_14-30-05", id)
}

func TestStartRecordingDuplicateName(t *testing.T) {
	repo := &MockChecker{
		OnSessionExists: func(ctx context.Context, id string) (bool, error) {
			return id == "S1", nil
		},
	}
	c, _ := newController(t, repo)

	_, err := c.StartRecording(context.Background(), "S1")
	assert.True(t, errors.Is(err, ErrDuplicateSessionName))
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.CurrentSessionID())

	_, err = c.ElapsedSeconds()
	assert.True(t, errors.Is(err, ErrNotRecording))

	name, ok := DuplicateName(err)
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestDuplicateNameReportsGeneratedID(t *testing.T) {
	repo := &MockChecker{
		OnSessionExists: func(ctx context.Context, id string) (bool, error) {
			return true, nil
		},
	}
	c, _ := newController(t, repo)

	_, err := c.StartRecording(context.Background(), " ")
	require.Error(t, err)
	name, ok := DuplicateName(err)
	require.True(t, ok)
	assert.Equal(t, "Session-2024-03-15_14-30-05", name)
	assert.Contains(t, err.Error(), "Session-2024-03-15_14-30-05")
}

func TestStartRecordingRepositoryError(t *testing.T) {
	repoErr := errors.New("database is locked")
	repo := &MockChecker{
		OnSessionExists: func(ctx context.Context, id string) (bool, error) {
			return false, repoErr
		},
	}
	c, _ := newController(t, repo)

	_, err := c.StartRecording(context.Background(), "S2")
	assert.True(t, errors.Is(err, repoErr))
	assert.Equal(t, StateIdle, c.State())
}

func TestStartRecordingWhileRecording(t *testing.T) {
	c, _ := newController(t, &MockChecker{})

	_, err := c.StartRecording(context.Background(), "first")
	require.NoError(t, err)

	_, err = c.StartRecording(context.Background(), "second")
	assert.True(t, errors.Is(err, ErrAlreadyRecording))
	assert.Equal(t, "first", c.CurrentSessionID())
}

func TestStopRecordingIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogrusLogger("info", &buf, "test")
	c := NewController(&MockChecker{}, log)

	_, err := c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)

	id, stopped := c.StopRecording()
	assert.True(t, stopped)
	assert.Equal(t, "S1", id)

	id, stopped = c.StopRecording()
	assert.False(t, stopped)
	assert.Empty(t, id)

	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.CurrentSessionID())
	assert.Equal(t, 1, strings.Count(buf.String(), "остановлена"))
}

func TestElapsedSecondsNonDecreasing(t *testing.T) {
	c, clock := newController(t, &MockChecker{})

	_, err := c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)

	clock.Advance(3200 * time.Millisecond)
	t1, err := c.ElapsedSeconds()
	require.NoError(t, err)
	assert.InDelta(t, 3.2, t1, 1e-9)

	t2, err := c.ElapsedSeconds()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, t2, t1)

	// Часы ушли назад: значение не должно уменьшиться
	clock.Advance(-time.Second)
	t3, err := c.ElapsedSeconds()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, t3, t2)
}

func TestElapsedSecondsRealClock(t *testing.T) {
	c := NewController(&MockChecker{}, logger.Discard())
	_, err := c.StartRecording(context.Background(), "real")
	require.NoError(t, err)

	prev := 0.0
	for i := 0; i < 100; i++ {
		e, err := c.ElapsedSeconds()
		require.NoError(t, err)
		require.GreaterOrEqual(t, e, prev)
		prev = e
	}
}

func TestStamp(t *testing.T) {
	c, clock := newController(t, &MockChecker{})

	_, _, ok := c.Stamp()
	assert.False(t, ok)

	_, err := c.StartRecording(context.Background(), "S1")
	require.NoError(t, err)
	clock.Advance(1500 * time.Millisecond)

	id, elapsed, ok := c.Stamp()
	assert.True(t, ok)
	assert.Equal(t, "S1", id)
	assert.InDelta(t, 1.5, elapsed, 1e-9)

	c.StopRecording()
	id, _, ok = c.Stamp()
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestNewSessionResetsElapsed(t *testing.T) {
	c, clock := newController(t, &MockChecker{})

	_, err := c.StartRecording(context.Background(), "A")
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, _ = c.ElapsedSeconds()
	c.StopRecording()

	_, err = c.StartRecording(context.Background(), "B")
	require.NoError(t, err)
	clock.Advance(time.Second)
	e, err := c.ElapsedSeconds()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, e, 1e-9)
}
