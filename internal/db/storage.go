package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hard-gainer/voting-ledger/internal/model"
)

var (
	ErrConflict = errors.New("event sequence already stored")
)

// Storage persists the ledger journal
type Storage interface {
	// AppendEvent stores one journal event; a used sequence number fails with ErrConflict
	AppendEvent(ctx context.Context, ev model.Event) error
	// ListEvents returns events with Seq >= fromSeq in sequence order
	ListEvents(ctx context.Context, fromSeq uint64) ([]model.Event, error)
	// Close releases the underlying connection
	Close() error
}

// MemoryStorage keeps the journal in process memory
type MemoryStorage struct {
	mu     sync.RWMutex
	events []model.Event
	bySeq  map[uint64]struct{}
}

// NewMemoryStorage creates an empty in-memory journal
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{bySeq: make(map[uint64]struct{})}
}

func (s *MemoryStorage) AppendEvent(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySeq[ev.Seq]; ok {
		return fmt.Errorf("%w: seq %d", ErrConflict, ev.Seq)
	}
	s.bySeq[ev.Seq] = struct{}{}
	s.events = append(s.events, cloneEvent(ev))
	return nil
}

func (s *MemoryStorage) ListEvents(ctx context.Context, fromSeq uint64) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Seq >= fromSeq {
			out = append(out, cloneEvent(ev))
		}
	}
	return out, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func cloneEvent(ev model.Event) model.Event {
	if ev.Choices != nil {
		ev.Choices = append([]string(nil), ev.Choices...)
	}
	return ev
}
