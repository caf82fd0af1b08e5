package ledger

import "errors"

// ledger errors
var (
	ErrUnauthorized     = errors.New("caller is not the ledger owner")
	ErrInvalidQuestion  = errors.New("invalid question")
	ErrNotFound         = errors.New("question not found")
	ErrInvalidChoice    = errors.New("invalid choice")
	ErrQuestionInactive = errors.New("question is not active")
	ErrAlreadyVoted     = errors.New("already voted on this question")

	// ErrOutcomeUnknown means a journal write failed and the journal could
	// not be read back. The transaction is settled by the next submission.
	ErrOutcomeUnknown = errors.New("journal outcome unknown")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidQuestion, "invalid_question"},
	{ErrNotFound, "not_found"},
	{ErrInvalidChoice, "invalid_choice"},
	{ErrQuestionInactive, "question_inactive"},
	{ErrAlreadyVoted, "already_voted"},
}

// ErrorKind returns a stable label for a ledger error, "" for nil and
// "internal" for anything outside the ledger taxonomy.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
