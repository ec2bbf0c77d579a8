package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
	"github.com/DioGolang/BookingSaga/internal/domain/entity"
)

type memoryRecord struct {
	outbound.OutboxRecord
	status      outbound.OutboxStatus
	errMsg      string
	claimedAt   time.Time
	processedAt time.Time
}

// MemoryStore is a process-local saga store and outbox for development and
// tests. It honors the same versioning contract as the SQL store.
type MemoryStore struct {
	mu     sync.Mutex
	sagas  map[string]*entity.BookingSaga
	outbox []*memoryRecord
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sagas: make(map[string]*entity.BookingSaga), now: time.Now}
}

func (m *MemoryStore) Load(_ context.Context, correlationID string) (*entity.BookingSaga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	saga, ok := m.sagas[correlationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrSagaNotFound, correlationID)
	}
	return saga.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, saga *entity.BookingSaga, expectedVersion int64, outbox []outbound.OutboxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sagas[saga.CorrelationID]
	switch {
	case expectedVersion == 0 && exists:
		return fmt.Errorf("%w: %s already exists", outbound.ErrVersionConflict, saga.CorrelationID)
	case expectedVersion != 0 && (!exists || stored.Version != expectedVersion):
		return fmt.Errorf("%w: %s expected version %d", outbound.ErrVersionConflict, saga.CorrelationID, expectedVersion)
	}

	saga.Version = expectedVersion + 1
	m.sagas[saga.CorrelationID] = saga.Clone()
	for _, rec := range outbox {
		m.outbox = append(m.outbox, &memoryRecord{OutboxRecord: rec, status: outbound.OutboxPending})
	}
	return nil
}

func (m *MemoryStore) FindByStatus(_ context.Context, status entity.Status, limit int) ([]*entity.BookingSaga, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*entity.BookingSaga
	for _, saga := range m.sagas {
		if saga.Status == status {
			out = append(out, saga.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimPending(_ context.Context, limit int) ([]outbound.OutboxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inFlight := make(map[string]bool)
	for _, rec := range m.outbox {
		if rec.status == outbound.OutboxProcessing {
			inFlight[rec.CorrelationID] = true
		}
	}

	var claimed []outbound.OutboxRecord
	now := m.now()
	for _, rec := range m.outbox {
		if len(claimed) == limit {
			break
		}
		if rec.status != outbound.OutboxPending || inFlight[rec.CorrelationID] {
			continue
		}
		rec.status = outbound.OutboxProcessing
		rec.Attempts++
		rec.claimedAt = now
		claimed = append(claimed, rec.OutboxRecord)
	}
	return claimed, nil
}

func (m *MemoryStore) MarkPublished(_ context.Context, id string) error {
	return m.update(id, func(rec *memoryRecord) {
		rec.status = outbound.OutboxPublished
		rec.processedAt = m.now()
		rec.errMsg = ""
	})
}

func (m *MemoryStore) MarkFailed(_ context.Context, id string, errMsg string, maxAttempts int) error {
	return m.update(id, func(rec *memoryRecord) {
		rec.errMsg = errMsg
		rec.processedAt = m.now()
		rec.claimedAt = time.Time{}
		if rec.Attempts >= maxAttempts {
			rec.status = outbound.OutboxFailed
			return
		}
		rec.status = outbound.OutboxPending
	})
}

func (m *MemoryStore) Release(_ context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.update(id, func(rec *memoryRecord) {
			if rec.status != outbound.OutboxProcessing {
				return
			}
			rec.status = outbound.OutboxPending
			rec.Attempts--
			rec.claimedAt = time.Time{}
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) ResetStuck(_ context.Context, claimedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, rec := range m.outbox {
		if rec.status == outbound.OutboxProcessing && rec.claimedAt.Before(claimedBefore) {
			rec.status = outbound.OutboxPending
			rec.claimedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DeleteOld(_ context.Context, publishedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.outbox[:0]
	var n int64
	for _, rec := range m.outbox {
		if rec.status == outbound.OutboxPublished && rec.processedAt.Before(publishedBefore) {
			n++
			continue
		}
		kept = append(kept, rec)
	}
	m.outbox = kept
	return n, nil
}

// Outbox returns a copy of every record with its current status, oldest first.
func (m *MemoryStore) Outbox() map[outbound.OutboxStatus][]outbound.OutboxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[outbound.OutboxStatus][]outbound.OutboxRecord)
	for _, rec := range m.outbox {
		out[rec.status] = append(out[rec.status], rec.OutboxRecord)
	}
	return out
}

func (m *MemoryStore) update(id string, fn func(*memoryRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.outbox {
		if rec.ID == id {
			fn(rec)
			return nil
		}
	}
	return fmt.Errorf("outbox record %s not found", id)
}
