package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/hard-gainer/voting-ledger/internal/db"
	"github.com/hard-gainer/voting-ledger/internal/ledger"
	"github.com/hard-gainer/voting-ledger/internal/metrics"
	"github.com/hard-gainer/voting-ledger/internal/model"
	"github.com/hard-gainer/voting-ledger/internal/notification"
)

// operation names used in logs and metrics
const (
	OpCreateQuestion    = "create_question"
	OpVote              = "vote"
	OpSetQuestionActive = "set_question_active"
)

// Service exposes the ledger through its submission and query channels
type Service struct {
	ledger    *ledger.Ledger
	storage   db.Storage
	metrics   *metrics.Metrics
	channelID string

	mu       sync.RWMutex
	notifier notification.MessageSender

	// highest sequence reported on the JournalSeq gauge
	seqMu   sync.Mutex
	seqSeen uint64
}

// NewService creates an instance of service. The ledger is expected to
// journal into storage.
func NewService(l *ledger.Ledger, storage db.Storage, m *metrics.Metrics, channelID string) *Service {
	s := &Service{
		ledger:    l,
		storage:   storage,
		metrics:   m,
		channelID: channelID,
	}
	l.Subscribe(s.onEvent)
	return s
}

// SetNotifier sets or replaces the notifier after the service is created
func (s *Service) SetNotifier(notifier notification.MessageSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = notifier
}

// NotifyChannel posts a message to the channel if a notifier is configured
func (s *Service) NotifyChannel(channelID, message string) error {
	s.mu.RLock()
	notifier := s.notifier
	s.mu.RUnlock()

	if notifier == nil || channelID == "" {
		slog.Debug("Notifier not configured, message not sent", "channel_id", channelID)
		return nil
	}

	return notifier.PostMessage(channelID, message)
}

// Status returns the ledger owner, counters and last journal sequence
func (s *Service) Status(ctx context.Context) (model.Status, error) {
	return s.ledger.Status(), nil
}

// Restore replays the stored journal into the ledger and audits the result
func (s *Service) Restore(ctx context.Context) error {
	from := s.ledger.LastSeq() + 1
	slog.Info("Restoring ledger from journal", "from_seq", from)

	events, err := s.storage.ListEvents(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to load journal: %w", err)
	}

	if err := s.ledger.Restore(events); err != nil {
		return fmt.Errorf("failed to replay journal: %w", err)
	}

	if err := s.ledger.Audit(); err != nil {
		return fmt.Errorf("ledger audit failed after replay: %w", err)
	}

	s.metrics.Questions.Set(float64(s.ledger.QuestionCount()))
	s.observeSeq(s.ledger.LastSeq())

	slog.Info("Ledger restored", "events", len(events), "questions", s.ledger.QuestionCount(),
		"last_seq", s.ledger.LastSeq())
	return nil
}

// CreateQuestion submits a new question on behalf of caller
func (s *Service) CreateQuestion(ctx context.Context, caller, text string, choices []string) (uint64, error) {
	slog.Info("Creating question", "caller", caller, "choices_count", len(choices))

	id, err := s.ledger.CreateQuestion(ctx, caller, text, choices)
	s.observe(OpCreateQuestion, caller, err)
	if err != nil {
		return 0, err
	}

	slog.Info("Question created successfully", "question_id", id)
	return id, nil
}

// Vote submits caller's vote for choice on question id
func (s *Service) Vote(ctx context.Context, caller string, id uint64, choice int) error {
	slog.Info("Handling vote", "question_id", id, "choice", choice, "caller", caller)

	err := s.ledger.Vote(ctx, caller, id, choice)
	s.observe(OpVote, caller, err)
	if err != nil {
		return err
	}

	slog.Info("Vote processed successfully", "question_id", id, "caller", caller)
	return nil
}

// SetQuestionActive opens or closes question id on behalf of caller
func (s *Service) SetQuestionActive(ctx context.Context, caller string, id uint64, active bool) error {
	slog.Info("Setting question active", "question_id", id, "active", active, "caller", caller)

	err := s.ledger.SetQuestionActive(ctx, caller, id, active)
	s.observe(OpSetQuestionActive, caller, err)
	return err
}

func (s *Service) observe(op, caller string, err error) {
	kind := ledger.ErrorKind(err)
	s.metrics.ObserveSubmission(op, kind)

	switch kind {
	case "":
	case "internal":
		slog.Error("Submission failed", "operation", op, "caller", caller, "error", err)
	default:
		slog.Info("Submission rejected", "operation", op, "caller", caller, "kind", kind, "error", err)
	}
}

// onEvent runs after every committed transaction
func (s *Service) onEvent(ev model.Event) {
	s.observeSeq(ev.Seq)

	var message string
	switch ev.Kind {
	case model.EventQuestionCreated:
		s.metrics.Questions.Inc()
		message = formatNewQuestion(ev)
	case model.EventVoteCast:
		s.metrics.VotesCast.Inc()
	case model.EventQuestionActiveSet:
		status := "closed"
		if ev.Active {
			status = "open"
		}
		message = fmt.Sprintf("Question **#%d** is now **%s** for voting.", ev.QuestionID, status)
	}

	if message == "" {
		return
	}
	if err := s.NotifyChannel(s.channelID, message); err != nil {
		slog.Error("Failed to notify channel", "channel_id", s.channelID, "seq", ev.Seq, "error", err)
	}
}

// observeSeq raises the JournalSeq gauge. Observers run outside the ledger
// lock, so events can arrive here out of order.
func (s *Service) observeSeq(seq uint64) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if seq <= s.seqSeen {
		return
	}
	s.seqSeen = seq
	s.metrics.JournalSeq.Set(float64(seq))
}

func formatNewQuestion(ev model.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### New question #%d: %s\n\n", ev.QuestionID, ev.Text)
	for i, choice := range ev.Choices {
		fmt.Fprintf(&b, "%d. %s\n", i+1, choice)
	}
	fmt.Fprintf(&b, "\nTo vote: `/question-vote %d <number>`", ev.QuestionID)
	return b.String()
}

// GetQuestion returns question id
func (s *Service) GetQuestion(ctx context.Context, id uint64) (model.Question, error) {
	return s.ledger.GetQuestion(id)
}

// GetVotes returns the vote count of one choice
func (s *Service) GetVotes(ctx context.Context, id uint64, choice int) (uint64, error) {
	return s.ledger.GetVotes(id, choice)
}

// HasVoted reports whether voter has voted on question id
func (s *Service) HasVoted(ctx context.Context, voter string, id uint64) (bool, error) {
	return s.ledger.HasVoted(voter, id)
}

// ListQuestions returns all questions in id order
func (s *Service) ListQuestions(ctx context.Context) ([]model.Question, error) {
	return s.ledger.ListQuestions(), nil
}

// GetResults returns the tally of question id
func (s *Service) GetResults(ctx context.Context, id uint64) (model.Results, error) {
	return s.ledger.Results(id)
}

// Events returns stored journal events starting at fromSeq
func (s *Service) Events(ctx context.Context, fromSeq uint64) ([]model.Event, error) {
	events, err := s.storage.ListEvents(ctx, fromSeq)
	if err != nil {
		slog.Error("Failed to list journal events", "from_seq", fromSeq, "error", err)
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// FormatResults formats the results of question id as Markdown
func (s *Service) FormatResults(ctx context.Context, id uint64) (string, error) {
	res, err := s.ledger.Results(id)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Question #%d: %s\n\n", res.QuestionID, res.Text)

	if !res.IsActive {
		b.WriteString("**Status: Closed**\n\n")
	}

	fmt.Fprintf(&b, "**Total votes: %s**\n\n", humanize.Comma(int64(res.TotalVotes)))

	b.WriteString("#### Results:\n")
	for _, c := range res.Choices {
		fmt.Fprintf(&b, "%d. **%s**: %s %s (%.1f%%)\n", c.Index+1, c.Text,
			humanize.Comma(int64(c.Votes)), humanize.PluralWord(int(c.Votes), "vote", ""), c.Percentage)
	}

	return b.String(), nil
}
