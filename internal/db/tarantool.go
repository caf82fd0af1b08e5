package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hard-gainer/voting-ledger/internal/model"
	"github.com/tarantool/go-tarantool"
	pool "github.com/tarantool/go-tarantool/connection_pool"
)

const (
	eventsSpace = "ledger_events"
	selectBatch = 1000
)

// TarantoolStorage implements the Storage interface using Tarantool
type TarantoolStorage struct {
	connPool *pool.ConnectionPool
}

// NewTarantoolStorage creates a new Tarantool storage instance with connection pool
func NewTarantoolStorage(addr string, opts tarantool.Opts) (*TarantoolStorage, error) {
	slog.Info("Connecting to Tarantool", "addr", addr)

	poolOpts := pool.OptsPool{
		CheckTimeout: 1 * time.Second,
	}

	connPool, err := pool.ConnectWithOpts([]string{addr}, opts, poolOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	_, err = connPool.Call("box.space."+eventsSpace+":len", []interface{}{}, pool.ANY)
	if err != nil {
		connPool.Close()
		return nil, fmt.Errorf("failed to verify %s space: %w", eventsSpace, err)
	}

	slog.Info("Successfully connected to Tarantool")
	return &TarantoolStorage{
		connPool: connPool,
	}, nil
}

// AppendEvent inserts a journal event tuple
func (s *TarantoolStorage) AppendEvent(ctx context.Context, ev model.Event) error {
	slog.Debug("Storing event in Tarantool", "seq", ev.Seq, "kind", ev.Kind)

	_, err := s.connPool.Insert(eventsSpace, eventToTuple(ev), pool.RW)
	if err != nil {
		if isTupleFound(err) {
			return fmt.Errorf("%w: seq %d", ErrConflict, ev.Seq)
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return nil
}

// ListEvents pages through the primary index starting at fromSeq
func (s *TarantoolStorage) ListEvents(ctx context.Context, fromSeq uint64) ([]model.Event, error) {
	slog.Debug("Listing events from Tarantool", "from_seq", fromSeq)

	var events []model.Event
	next := fromSeq
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Reads may go to any replica
		resp, err := s.connPool.Select(eventsSpace, "primary", 0, selectBatch, tarantool.IterGe,
			[]interface{}{next}, pool.ANY)
		if err != nil {
			return nil, fmt.Errorf("tarantool select error: %w", err)
		}

		for _, tupleData := range resp.Data {
			data, ok := tupleData.([]interface{})
			if !ok {
				return nil, fmt.Errorf("invalid tuple format in Tarantool response: %v", tupleData)
			}
			ev, err := tupleToEvent(data)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
			next = ev.Seq + 1
		}

		if len(resp.Data) < selectBatch {
			return events, nil
		}
	}
}

// Close closes the Tarantool connection pool
func (s *TarantoolStorage) Close() error {
	slog.Info("Closing Tarantool connection pool")
	errs := s.connPool.Close()
	if len(errs) > 0 {
		return fmt.Errorf("errors closing Tarantool pool: %v", errs)
	}
	return nil
}

func isTupleFound(err error) bool {
	var terr tarantool.Error
	if errors.As(err, &terr) {
		return terr.Code == tarantool.ErrTupleFound
	}
	var terrPtr *tarantool.Error
	if errors.As(err, &terrPtr) {
		return terrPtr.Code == tarantool.ErrTupleFound
	}
	return false
}

func eventToTuple(ev model.Event) []interface{} {
	choices := ev.Choices
	if choices == nil {
		choices = []string{}
	}
	return []interface{}{
		ev.Seq,
		ev.TxID,
		string(ev.Kind),
		ev.Caller,
		ev.QuestionID,
		ev.Text,
		choices,
		int64(ev.ChoiceIndex),
		ev.Active,
		ev.At.UnixNano(),
	}
}

func tupleToEvent(data []interface{}) (model.Event, error) {
	if len(data) < 10 {
		return model.Event{}, fmt.Errorf("invalid Tarantool tuple: %d fields", len(data))
	}

	seq, ok1 := toInt64(data[0])
	txID, ok2 := data[1].(string)
	kind, ok3 := data[2].(string)
	caller, ok4 := data[3].(string)
	qid, ok5 := toInt64(data[4])
	text, ok6 := data[5].(string)
	choice, ok7 := toInt64(data[7])
	active, ok8 := data[8].(bool)
	at, ok9 := toInt64(data[9])
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7 && ok8 && ok9) {
		return model.Event{}, fmt.Errorf("invalid Tarantool tuple: %v", data)
	}

	return model.Event{
		Seq:         uint64(seq),
		TxID:        txID,
		Kind:        model.EventKind(kind),
		Caller:      caller,
		QuestionID:  uint64(qid),
		Text:        text,
		Choices:     convertToStringSlice(data[6]),
		ChoiceIndex: int(choice),
		Active:      active,
		At:          time.Unix(0, at).UTC(),
	}, nil
}

// toInt64 accepts any msgpack integer representation
func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	case uint:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	}
	return 0, false
}

// convertToStringSlice is a helper function for converting to string slice
func convertToStringSlice(value interface{}) []string {
	slice, ok := value.([]interface{})
	if !ok || len(slice) == 0 {
		return nil
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}
