package model

import "time"

// Question is a read-only snapshot of a ledger question
type Question struct {
	ID         uint64   `json:"id"`
	Text       string   `json:"text"`
	Choices    []string `json:"choices"`
	IsActive   bool     `json:"is_active"`
	TotalVotes uint64   `json:"total_votes"`
}

// ChoiceResult holds the tally of one choice
type ChoiceResult struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	Votes      uint64  `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// Results is the tally of a question
type Results struct {
	QuestionID uint64         `json:"question_id"`
	Text       string         `json:"text"`
	IsActive   bool           `json:"is_active"`
	TotalVotes uint64         `json:"total_votes"`
	Choices    []ChoiceResult `json:"choices"`
}

// Status summarizes the whole ledger
type Status struct {
	Owner           string `json:"owner"`
	QuestionCount   uint64 `json:"question_count"`
	ActiveQuestions uint64 `json:"active_questions"`
	TotalVotes      uint64 `json:"total_votes"`
	LastSeq         uint64 `json:"last_seq"`
}

// EventKind names a ledger state transition
type EventKind string

const (
	EventQuestionCreated   EventKind = "question_created"
	EventVoteCast          EventKind = "vote_cast"
	EventQuestionActiveSet EventKind = "question_active_set"
)

// Event is one applied transaction of the ledger journal.
// Seq is dense and starts at 1.
type Event struct {
	Seq         uint64    `json:"seq"`
	TxID        string    `json:"tx_id"`
	Kind        EventKind `json:"kind"`
	Caller      string    `json:"caller"`
	QuestionID  uint64    `json:"question_id"`
	Text        string    `json:"text,omitempty"`
	Choices     []string  `json:"choices,omitempty"`
	ChoiceIndex int       `json:"choice_index"`
	Active      bool      `json:"active"`
	At          time.Time `json:"at"`
}
