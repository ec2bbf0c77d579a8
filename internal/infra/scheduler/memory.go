package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DioGolang/BookingSaga/internal/domain/message"
)

type memoryEntry struct {
	timeout message.Timeout
	dueAt   time.Time
}

type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryBackend) Add(_ context.Context, t message.Timeout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[t.Token] = &memoryEntry{timeout: t, dueAt: t.Deadline}
	return nil
}

func (m *MemoryBackend) Remove(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}

func (m *MemoryBackend) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]message.Timeout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*memoryEntry, 0)
	for _, e := range m.entries {
		if !e.dueAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].dueAt.Before(due[j].dueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]message.Timeout, 0, len(due))
	for _, e := range due {
		e.dueAt = now.Add(lease)
		out = append(out, e.timeout)
	}
	return out, nil
}

func (m *MemoryBackend) Pending(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}
