package ingest

import (
	"sync"

	"sensorlink/internal/domain/models"
)

// ListenerID идентифицирует подписчика для последующего удаления
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn func(models.StoredReading)
}

// listenerSet - упорядоченный список подписчиков. Рассылка идет по снимку,
// поэтому добавление и удаление во время рассылки безопасны.
type listenerSet struct {
	mu      sync.Mutex
	next    ListenerID
	entries []listenerEntry
}

func (s *listenerSet) add(fn func(models.StoredReading)) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.entries = append(s.entries, listenerEntry{id: s.next, fn: fn})
	return s.next
}

func (s *listenerSet) remove(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			// Новый срез: ранее выданные снимки не меняются
			entries := make([]listenerEntry, 0, len(s.entries)-1)
			entries = append(entries, s.entries[:i]...)
			entries = append(entries, s.entries[i+1:]...)
			s.entries = entries
			return true
		}
	}
	return false
}

func (s *listenerSet) snapshot() []listenerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]listenerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *listenerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
