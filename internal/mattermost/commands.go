package mattermost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hard-gainer/voting-ledger/internal/ledger"
)

// userMessage turns a ledger rejection into a chat reply. Errors outside
// the ledger taxonomy are not translated.
func userMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return "Only the ledger owner can do that.", true
	case errors.Is(err, ledger.ErrInvalidQuestion):
		return "A question needs text and at least 2 choices.", true
	case errors.Is(err, ledger.ErrNotFound):
		return "Question not found. Use `/question-list` to see available questions.", true
	case errors.Is(err, ledger.ErrInvalidChoice):
		return "That choice does not exist for this question.", true
	case errors.Is(err, ledger.ErrQuestionInactive):
		return "This question is closed for voting.", true
	case errors.Is(err, ledger.ErrAlreadyVoted):
		return "You have already voted on this question.", true
	}
	return "", false
}

func reply(err error, action string) (string, error) {
	if msg, ok := userMessage(err); ok {
		return msg, nil
	}
	return "", fmt.Errorf("failed to %s: %w", action, err)
}

func parseQuestionID(arg string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimPrefix(arg, "#"), 10, 64)
	return id, err == nil
}

// handleQuestionCreate handles the creation of a question
func (c *Client) handleQuestionCreate(args []string, userID, channelID string) (string, error) {
	if len(args) < 3 {
		return "Usage: `/question-create \"Text\" \"Choice 1\" \"Choice 2\" ...`\n" +
			"Text and at least 2 choices enclosed with \"\" are required.", nil
	}

	text, choices := args[0], args[1:]

	ctx := context.Background()
	id, err := c.ledger.CreateQuestion(ctx, userID, text, choices)
	if err != nil {
		return reply(err, "create question")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### Question Created: %s\n\n**ID:** %d\n\n**Choices:**\n", text, id)
	for i, choice := range choices {
		fmt.Fprintf(&b, "%d. %s\n", i+1, choice)
	}
	fmt.Fprintf(&b, "\nTo vote: `/question-vote %d <number>`\nTo see results: `/question-results %d`", id, id)

	return b.String(), nil
}

// handleQuestionVote handles voting. Choices are numbered from 1 in chat.
func (c *Client) handleQuestionVote(args []string, userID, channelID string) (string, error) {
	if len(args) < 2 {
		return "Usage: `/question-vote [question-id] [choice-number]`", nil
	}

	id, ok := parseQuestionID(args[0])
	if !ok {
		return fmt.Sprintf("`%s` is not a question id.", args[0]), nil
	}
	number, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Sprintf("`%s` is not a choice number.", args[1]), nil
	}

	ctx := context.Background()
	if err := c.ledger.Vote(ctx, userID, id, number-1); err != nil {
		return reply(err, "vote")
	}

	return fmt.Sprintf("Your vote for choice **%d** on question **#%d** has been recorded.", number, id), nil
}

// handleQuestionResults handles results display of a question
func (c *Client) handleQuestionResults(args []string, userID, channelID string) (string, error) {
	if len(args) < 1 {
		return "Usage: `/question-results [question-id]`", nil
	}

	id, ok := parseQuestionID(args[0])
	if !ok {
		return fmt.Sprintf("`%s` is not a question id.", args[0]), nil
	}

	results, err := c.ledger.FormatResults(context.Background(), id)
	if err != nil {
		return reply(err, "get question results")
	}

	return results, nil
}

func (c *Client) handleQuestionClose(args []string, userID, channelID string) (string, error) {
	return c.setActive(args, userID, false)
}

func (c *Client) handleQuestionOpen(args []string, userID, channelID string) (string, error) {
	return c.setActive(args, userID, true)
}

func (c *Client) setActive(args []string, userID string, active bool) (string, error) {
	verb := "close"
	if active {
		verb = "open"
	}
	if len(args) < 1 {
		return fmt.Sprintf("Usage: `/question-%s [question-id]`", verb), nil
	}

	id, ok := parseQuestionID(args[0])
	if !ok {
		return fmt.Sprintf("`%s` is not a question id.", args[0]), nil
	}

	ctx := context.Background()
	if err := c.ledger.SetQuestionActive(ctx, userID, id, active); err != nil {
		return reply(err, verb+" question")
	}

	if active {
		return fmt.Sprintf("Question **#%d** is open for voting.", id), nil
	}

	results, err := c.ledger.FormatResults(ctx, id)
	if err != nil {
		return fmt.Sprintf("Question **#%d** has been closed, but results could not be displayed.", id), nil
	}
	return fmt.Sprintf("Question **#%d** has been closed.\n\n%s", id, results), nil
}

// handleQuestionList prints the list of all questions
func (c *Client) handleQuestionList(args []string, userID, channelID string) (string, error) {
	questions, err := c.ledger.ListQuestions(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to list questions: %w", err)
	}

	if len(questions) == 0 {
		return "No questions found.", nil
	}

	var b strings.Builder
	b.WriteString("### Available Questions\n\n")
	for _, q := range questions {
		status := "Active"
		if !q.IsActive {
			status = "Closed"
		}
		fmt.Fprintf(&b, "- **#%d** %s\n  Status: %s | Votes: %d\n", q.ID, q.Text, status, q.TotalVotes)
	}

	return b.String(), nil
}

// handleQuestionVoted tells the caller whether they voted on a question
func (c *Client) handleQuestionVoted(args []string, userID, channelID string) (string, error) {
	if len(args) < 1 {
		return "Usage: `/question-voted [question-id]`", nil
	}

	id, ok := parseQuestionID(args[0])
	if !ok {
		return fmt.Sprintf("`%s` is not a question id.", args[0]), nil
	}

	voted, err := c.ledger.HasVoted(context.Background(), userID, id)
	if err != nil {
		return reply(err, "check vote")
	}

	if voted {
		return fmt.Sprintf("You have voted on question **#%d**.", id), nil
	}
	return fmt.Sprintf("You have not voted on question **#%d** yet.", id), nil
}

// handleQuestionStatus shows the ledger owner and totals
func (c *Client) handleQuestionStatus(args []string, userID, channelID string) (string, error) {
	st, err := c.ledger.Status(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get ledger status: %w", err)
	}

	return fmt.Sprintf("### Ledger Status\n\n"+
		"**Owner:** @%s\n"+
		"**Questions:** %d (%d open)\n"+
		"**Votes:** %d\n"+
		"**Journal sequence:** %d",
		st.Owner, st.QuestionCount, st.ActiveQuestions, st.TotalVotes, st.LastSeq), nil
}
