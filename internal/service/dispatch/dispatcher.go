package dispatch

import (
	"context"
	"sync"
)

// Dispatcher выполняет переданные функции по очереди в одной горутине.
// Используется подписчиками, которым нужна привязка к одному потоку выполнения
// или которые не должны задерживать цикл чтения порта.
type Dispatcher struct {
	queue chan func()

	mu      sync.Mutex
	running bool
	dropped int
}

// New создает диспетчер с очередью заданного размера
func New(size int) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	return &Dispatcher{
		queue: make(chan func(), size),
	}
}

// Run обрабатывает очередь до отмены ctx. Блокирует вызывающую горутину.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.queue:
			fn()
		}
	}
}

// Post ставит функцию в очередь без блокировки. Возвращает false, если очередь
// переполнена и функция отброшена.
func (d *Dispatcher) Post(fn func()) bool {
	select {
	case d.queue <- fn:
		return true
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		return false
	}
}

// Dropped возвращает количество отброшенных из-за переполнения задач
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// WrapValue превращает callback в отложенный: вызов ставит fn(v) в очередь диспетчера
func WrapValue[T any](d *Dispatcher, fn func(T)) func(T) {
	return func(v T) {
		d.Post(func() { fn(v) })
	}
}
