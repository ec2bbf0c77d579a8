package database

import (
	"context"
	"database/sql"

	"github.com/DioGolang/BookingSaga/internal/application/port/outbound"
)

// Stores bundles the saga repository and the outbox over one backing store.
type Stores struct {
	Saga    outbound.SagaRepository
	Outbox  outbound.OutboxStore
	DB      *sql.DB
	Dialect Dialect
}

// NewStores opens the store named by driver: postgres, sqlite or memory.
// DB is nil for memory.
func NewStores(ctx context.Context, driver, dsn string) (*Stores, error) {
	if driver == "memory" {
		mem := NewMemoryStore()
		return &Stores{Saga: mem, Outbox: mem}, nil
	}
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := Open(ctx, d, dsn)
	if err != nil {
		return nil, err
	}
	return &Stores{
		Saga:    NewSagaRepository(db, d),
		Outbox:  NewOutboxStore(db, d),
		DB:      db,
		Dialect: d,
	}, nil
}

func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
