package ledger

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hard-gainer/voting-ledger/internal/model"
)

// Journal receives every transaction before it is applied. A failed
// AppendEvent aborts the transaction unless ListEvents shows the event
// was stored anyway.
type Journal interface {
	AppendEvent(ctx context.Context, ev model.Event) error
	ListEvents(ctx context.Context, fromSeq uint64) ([]model.Event, error)
}

// Observer is called with every committed event, outside the ledger lock
type Observer func(ev model.Event)

// Option configures a Ledger
type Option func(*Ledger)

// WithJournal sets the journal every transaction is appended to
func WithJournal(j Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithClock overrides the event timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

type question struct {
	text    string
	choices []string
	active  bool
	counts  []uint64
	total   uint64
}

type voterKey struct {
	voter      string
	questionID uint64
}

// Ledger is the question/vote/tally state machine. All mutations go
// through one critical section, so they apply in a single total order.
type Ledger struct {
	mu        sync.RWMutex
	owner     string
	questions []*question
	voters    map[voterKey]struct{}
	seq       uint64
	journal   Journal
	pending   *model.Event
	observers []Observer
	now       func() time.Time
}

// New creates an empty ledger owned by owner
func New(owner string, opts ...Option) *Ledger {
	l := &Ledger{
		owner:  owner,
		voters: make(map[voterKey]struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers an observer for committed events
func (l *Ledger) Subscribe(obs Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, obs)
}

// Owner returns the identity allowed to create and toggle questions
func (l *Ledger) Owner() string {
	return l.owner
}

// CreateQuestion appends a new active question and returns its id
func (l *Ledger) CreateQuestion(ctx context.Context, caller, text string, choices []string) (uint64, error) {
	ev, err := l.submit(ctx, model.Event{
		Kind:    model.EventQuestionCreated,
		Caller:  caller,
		Text:    text,
		Choices: slices.Clone(choices),
	})
	if err != nil {
		return 0, err
	}
	return ev.QuestionID, nil
}

// Vote records caller's vote for choice on question id
func (l *Ledger) Vote(ctx context.Context, caller string, id uint64, choice int) error {
	_, err := l.submit(ctx, model.Event{
		Kind:        model.EventVoteCast,
		Caller:      caller,
		QuestionID:  id,
		ChoiceIndex: choice,
	})
	return err
}

// SetQuestionActive opens or closes a question for voting. Setting the
// current value again is a successful no-op transition.
func (l *Ledger) SetQuestionActive(ctx context.Context, caller string, id uint64, active bool) error {
	_, err := l.submit(ctx, model.Event{
		Kind:       model.EventQuestionActiveSet,
		Caller:     caller,
		QuestionID: id,
		Active:     active,
	})
	return err
}

func (l *Ledger) submit(ctx context.Context, ev model.Event) (model.Event, error) {
	l.mu.Lock()
	committed, err := l.commit(ctx, &ev)
	observers := l.observers
	l.mu.Unlock()

	for _, c := range committed {
		for _, obs := range observers {
			obs(c)
		}
	}
	return ev, err
}

// commit must be called with l.mu held. It returns every event applied,
// which includes an earlier in-doubt event the journal turned out to hold.
func (l *Ledger) commit(ctx context.Context, ev *model.Event) ([]model.Event, error) {
	// A journal write must not be abandoned halfway by a caller going away
	jctx := context.WithoutCancel(ctx)

	var committed []model.Event
	if l.pending != nil {
		p := *l.pending
		stored, err := l.resolvePending(jctx)
		if err != nil {
			return nil, err
		}
		if stored {
			l.apply(p)
			committed = append(committed, p)
		}
	}

	if ev.Kind == model.EventQuestionCreated {
		ev.QuestionID = uint64(len(l.questions))
	}
	if err := l.validate(*ev); err != nil {
		return committed, err
	}

	ev.Seq = l.seq + 1
	ev.TxID = uuid.NewString()
	ev.At = l.now().UTC()

	if l.journal != nil {
		if err := l.journal.AppendEvent(jctx, *ev); err != nil {
			pending := *ev
			l.pending = &pending
			stored, rerr := l.resolvePending(jctx)
			if rerr != nil {
				return committed, fmt.Errorf("failed to append to journal: %v: %w", err, rerr)
			}
			if !stored {
				return committed, fmt.Errorf("failed to append to journal: %w", err)
			}
		}
	}

	l.apply(*ev)
	return append(committed, *ev), nil
}

// resolvePending looks the in-doubt event up in the journal and reports
// whether it was stored. The event stays in doubt only while the lookup
// itself fails.
func (l *Ledger) resolvePending(ctx context.Context) (bool, error) {
	p := l.pending
	stored, err := l.journal.ListEvents(ctx, p.Seq)
	if err != nil {
		return false, fmt.Errorf("%w: seq %d: %w", ErrOutcomeUnknown, p.Seq, err)
	}
	l.pending = nil

	if len(stored) == 0 || stored[0].Seq != p.Seq {
		return false, nil
	}
	if stored[0].TxID != p.TxID {
		return false, fmt.Errorf("journal seq %d holds transaction %s, expected %s", p.Seq, stored[0].TxID, p.TxID)
	}
	return true, nil
}

// Restore re-applies journal events in order. Events must continue the
// current sequence without gaps. On error the ledger keeps the events
// applied before the failing one.
func (l *Ledger) Restore(events []model.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ev := range events {
		if ev.Seq != l.seq+1 {
			return fmt.Errorf("event seq %d out of order, expected %d", ev.Seq, l.seq+1)
		}
		if ev.Kind == model.EventQuestionCreated && ev.QuestionID != uint64(len(l.questions)) {
			return fmt.Errorf("event %d: question id %d out of order, expected %d",
				ev.Seq, ev.QuestionID, len(l.questions))
		}
		if err := l.validate(ev); err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		l.apply(ev)
	}
	return nil
}

// validate must be called with l.mu held
func (l *Ledger) validate(ev model.Event) error {
	switch ev.Kind {
	case model.EventQuestionCreated:
		if ev.Caller != l.owner {
			return ErrUnauthorized
		}
		if strings.TrimSpace(ev.Text) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidQuestion)
		}
		if len(ev.Choices) < 2 {
			return fmt.Errorf("%w: at least 2 choices required, got %d", ErrInvalidQuestion, len(ev.Choices))
		}

	case model.EventVoteCast:
		q, err := l.lookup(ev.QuestionID)
		if err != nil {
			return err
		}
		if !q.active {
			return fmt.Errorf("%w: question %d", ErrQuestionInactive, ev.QuestionID)
		}
		if ev.ChoiceIndex < 0 || ev.ChoiceIndex >= len(q.choices) {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChoice, ev.ChoiceIndex, len(q.choices))
		}
		if _, voted := l.voters[voterKey{ev.Caller, ev.QuestionID}]; voted {
			return fmt.Errorf("%w: question %d", ErrAlreadyVoted, ev.QuestionID)
		}

	case model.EventQuestionActiveSet:
		if ev.Caller != l.owner {
			return ErrUnauthorized
		}
		if _, err := l.lookup(ev.QuestionID); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

// apply must be called with l.mu held, after validate
func (l *Ledger) apply(ev model.Event) {
	switch ev.Kind {
	case model.EventQuestionCreated:
		l.questions = append(l.questions, &question{
			text:    ev.Text,
			choices: slices.Clone(ev.Choices),
			active:  true,
			counts:  make([]uint64, len(ev.Choices)),
		})
	case model.EventVoteCast:
		q := l.questions[ev.QuestionID]
		l.voters[voterKey{ev.Caller, ev.QuestionID}] = struct{}{}
		q.counts[ev.ChoiceIndex]++
		q.total++
	case model.EventQuestionActiveSet:
		l.questions[ev.QuestionID].active = ev.Active
	}
	l.seq = ev.Seq
}

func (l *Ledger) lookup(id uint64) (*question, error) {
	if id >= uint64(len(l.questions)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return l.questions[id], nil
}

// GetQuestion returns a snapshot of question id
func (l *Ledger) GetQuestion(id uint64) (model.Question, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q, err := l.lookup(id)
	if err != nil {
		return model.Question{}, err
	}
	return q.snapshot(id), nil
}

// GetVotes returns the number of votes for choice on question id
func (l *Ledger) GetVotes(id uint64, choice int) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q, err := l.lookup(id)
	if err != nil {
		return 0, err
	}
	if choice < 0 || choice >= len(q.choices) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidChoice, choice, len(q.choices))
	}
	return q.counts[choice], nil
}

// HasVoted reports whether voter has a record for question id
func (l *Ledger) HasVoted(voter string, id uint64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, err := l.lookup(id); err != nil {
		return false, err
	}
	_, voted := l.voters[voterKey{voter, id}]
	return voted, nil
}

// Status returns the owner, counters and journal position in one snapshot
func (l *Ledger) Status() model.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := model.Status{
		Owner:         l.owner,
		QuestionCount: uint64(len(l.questions)),
		LastSeq:       l.seq,
	}
	for _, q := range l.questions {
		if q.active {
			st.ActiveQuestions++
		}
		st.TotalVotes += q.total
	}
	return st
}

// QuestionCount returns the number of questions ever created
func (l *Ledger) QuestionCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.questions))
}

// LastSeq returns the sequence number of the last applied event
func (l *Ledger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// ListQuestions returns snapshots of all questions in id order
func (l *Ledger) ListQuestions() []model.Question {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Question, len(l.questions))
	for i, q := range l.questions {
		out[i] = q.snapshot(uint64(i))
	}
	return out
}

// Results returns the per-choice tally of question id
func (l *Ledger) Results(id uint64) (model.Results, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	q, err := l.lookup(id)
	if err != nil {
		return model.Results{}, err
	}

	res := model.Results{
		QuestionID: id,
		Text:       q.text,
		IsActive:   q.active,
		TotalVotes: q.total,
		Choices:    make([]model.ChoiceResult, len(q.choices)),
	}
	for i, text := range q.choices {
		var pct float64
		if q.total > 0 {
			pct = math.Round(float64(q.counts[i])*1000/float64(q.total)) / 10
		}
		res.Choices[i] = model.ChoiceResult{Index: i, Text: text, Votes: q.counts[i], Percentage: pct}
	}
	return res, nil
}

// Audit checks that every question's total matches both its per-choice
// counts and its voter records.
func (l *Ledger) Audit() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	voters := make([]uint64, len(l.questions))
	for k := range l.voters {
		if k.questionID >= uint64(len(l.questions)) {
			return fmt.Errorf("voter %q recorded for unknown question %d", k.voter, k.questionID)
		}
		voters[k.questionID]++
	}

	for id, q := range l.questions {
		var sum uint64
		for _, c := range q.counts {
			sum += c
		}
		if sum != q.total || voters[id] != q.total {
			return fmt.Errorf("question %d: total %d, counted %d, voters %d", id, q.total, sum, voters[id])
		}
	}
	return nil
}

func (q *question) snapshot(id uint64) model.Question {
	return model.Question{
		ID:         id,
		Text:       q.text,
		Choices:    slices.Clone(q.choices),
		IsActive:   q.active,
		TotalVotes: q.total,
	}
}
