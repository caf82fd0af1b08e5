package mattermost

import (
	"context"
	"errors"
	"testing"

	"github.com/hard-gainer/voting-ledger/internal/config"
	"github.com/hard-gainer/voting-ledger/internal/db"
	"github.com/hard-gainer/voting-ledger/internal/ledger"
	"github.com/hard-gainer/voting-ledger/internal/metrics"
	domain "github.com/hard-gainer/voting-ledger/internal/model"
	"github.com/hard-gainer/voting-ledger/internal/service"
	"github.com/mattermost/mattermost-server/v6/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "owner-id"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, _ := newTestClientService(t)
	return c
}

func newTestClientService(t *testing.T) (*Client, *service.Service) {
	t.Helper()
	storage := db.NewMemoryStorage()
	l := ledger.New(owner, ledger.WithJournal(storage))
	svc := service.NewService(l, storage, metrics.NewMetrics(), "")
	return NewClient(svc), svc
}

func TestCommands_VotingFlow(t *testing.T) {
	c := newTestClient(t)

	resp, err := c.HandleCommand("/question-create", []string{"Lunch?", "Pizza", "Sushi"}, owner, "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "### Question Created: Lunch?")
	assert.Contains(t, resp, "**ID:** 0")
	assert.Contains(t, resp, "1. Pizza\n2. Sushi\n")

	resp, err = c.HandleCommand("question-vote", []string{"0", "2"}, "alice", "ch")
	require.NoError(t, err)
	assert.Equal(t, "Your vote for choice **2** on question **#0** has been recorded.", resp)

	resp, err = c.HandleCommand("question-vote", []string{"#0", "2"}, "alice", "ch")
	require.NoError(t, err)
	assert.Equal(t, "You have already voted on this question.", resp)

	resp, err = c.HandleCommand("question-voted", []string{"0"}, "alice", "ch")
	require.NoError(t, err)
	assert.Equal(t, "You have voted on question **#0**.", resp)

	resp, err = c.HandleCommand("question-voted", []string{"0"}, "bob", "ch")
	require.NoError(t, err)
	assert.Equal(t, "You have not voted on question **#0** yet.", resp)

	resp, err = c.HandleCommand("question-results", []string{"0"}, "bob", "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "**Total votes: 1**")
	assert.Contains(t, resp, "1. **Pizza**: 0 votes (0.0%)")
	assert.Contains(t, resp, "2. **Sushi**: 1 vote (100.0%)")

	resp, err = c.HandleCommand("question-close", []string{"0"}, owner, "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "Question **#0** has been closed.")
	assert.Contains(t, resp, "**Status: Closed**")

	resp, err = c.HandleCommand("question-vote", []string{"0", "1"}, "bob", "ch")
	require.NoError(t, err)
	assert.Equal(t, "This question is closed for voting.", resp)

	resp, err = c.HandleCommand("question-open", []string{"0"}, owner, "ch")
	require.NoError(t, err)
	assert.Equal(t, "Question **#0** is open for voting.", resp)

	resp, err = c.HandleCommand("question-vote", []string{"0", "1"}, "bob", "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "has been recorded")

	resp, err = c.HandleCommand("question-list", nil, "bob", "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "- **#0** Lunch?\n  Status: Active | Votes: 2")
}

func TestCommands_Rejections(t *testing.T) {
	c := newTestClient(t)
	_, err := c.HandleCommand("question-create", []string{"Q", "A", "B"}, owner, "ch")
	require.NoError(t, err)

	tests := []struct {
		name    string
		command string
		args    []string
		user    string
		want    string
	}{
		{"CreateNotOwner", "question-create", []string{"Q", "A", "B"}, "mallory", "Only the ledger owner can do that."},
		{"CreateBlankText", "question-create", []string{"  ", "A", "B"}, owner, "A question needs text and at least 2 choices."},
		{"CreateTooFewArgs", "question-create", []string{"Q", "A"}, owner, "Usage: `/question-create"},
		{"VoteUnknownQuestion", "question-vote", []string{"7", "1"}, "alice", "Question not found."},
		{"VoteChoiceZero", "question-vote", []string{"0", "0"}, "alice", "That choice does not exist for this question."},
		{"VoteChoiceTooHigh", "question-vote", []string{"0", "3"}, "alice", "That choice does not exist for this question."},
		{"VoteBadID", "question-vote", []string{"abc", "1"}, "alice", "`abc` is not a question id."},
		{"VoteBadChoice", "question-vote", []string{"0", "x"}, "alice", "`x` is not a choice number."},
		{"VoteMissingArgs", "question-vote", []string{"0"}, "alice", "Usage: `/question-vote"},
		{"CloseNotOwner", "question-close", []string{"0"}, "alice", "Only the ledger owner can do that."},
		{"OpenUnknown", "question-open", []string{"9"}, owner, "Question not found."},
		{"ResultsUnknown", "question-results", []string{"9"}, "alice", "Question not found."},
		{"VotedUnknown", "question-voted", []string{"9"}, "alice", "Question not found."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.HandleCommand(tt.command, tt.args, tt.user, "ch")
			require.NoError(t, err)
			assert.Contains(t, resp, tt.want)
		})
	}
}

func TestCommands_UnknownCommand(t *testing.T) {
	c := newTestClient(t)
	_, err := c.HandleCommand("/poll-create", nil, "alice", "ch")
	assert.EqualError(t, err, "unknown command: poll-create")
}

func TestCommands_EmptyList(t *testing.T) {
	c := newTestClient(t)
	resp, err := c.HandleCommand("question-list", nil, "alice", "ch")
	require.NoError(t, err)
	assert.Equal(t, "No questions found.", resp)
}

// brokenLedger fails every call with an error outside the ledger taxonomy
type brokenLedger struct{}

var errBroken = errors.New("journal unavailable")

func (brokenLedger) CreateQuestion(context.Context, string, string, []string) (uint64, error) {
	return 0, errBroken
}
func (brokenLedger) Vote(context.Context, string, uint64, int) error { return errBroken }
func (brokenLedger) SetQuestionActive(context.Context, string, uint64, bool) error {
	return errBroken
}
func (brokenLedger) HasVoted(context.Context, string, uint64) (bool, error) { return false, errBroken }
func (brokenLedger) ListQuestions(context.Context) ([]domain.Question, error) {
	return nil, errBroken
}
func (brokenLedger) FormatResults(context.Context, uint64) (string, error) { return "", errBroken }
func (brokenLedger) Status(context.Context) (domain.Status, error) {
	return domain.Status{}, errBroken
}

func TestCommands_InternalErrors(t *testing.T) {
	c := NewClient(brokenLedger{})

	_, err := c.HandleCommand("question-create", []string{"Q", "A", "B"}, owner, "ch")
	require.ErrorIs(t, err, errBroken)
	assert.Contains(t, err.Error(), "failed to create question")

	_, err = c.HandleCommand("question-vote", []string{"0", "1"}, "alice", "ch")
	require.ErrorIs(t, err, errBroken)

	_, err = c.HandleCommand("question-list", nil, "alice", "ch")
	require.ErrorIs(t, err, errBroken)

	_, err = c.HandleCommand("question-status", nil, "alice", "ch")
	require.ErrorIs(t, err, errBroken)
	assert.Contains(t, err.Error(), "failed to get ledger status")
}

func TestCommands_Status(t *testing.T) {
	c := newTestClient(t)

	resp, err := c.HandleCommand("question-status", nil, "alice", "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "**Owner:** @"+owner)
	assert.Contains(t, resp, "**Questions:** 0 (0 open)")

	_, err = c.HandleCommand("question-create", []string{"Q", "A", "B"}, owner, "ch")
	require.NoError(t, err)
	_, err = c.HandleCommand("question-create", []string{"R", "A", "B"}, owner, "ch")
	require.NoError(t, err)
	_, err = c.HandleCommand("question-vote", []string{"0", "1"}, "alice", "ch")
	require.NoError(t, err)
	_, err = c.HandleCommand("question-close", []string{"1"}, owner, "ch")
	require.NoError(t, err)

	resp, err = c.HandleCommand("question-status", nil, "alice", "ch")
	require.NoError(t, err)
	assert.Contains(t, resp, "**Questions:** 2 (1 open)")
	assert.Contains(t, resp, "**Votes:** 1")
	assert.Contains(t, resp, "**Journal sequence:** 4")
}

func slashCommandEvent(command, userID, channelID string) *model.WebSocketEvent {
	return model.NewWebSocketEvent("slash_command", "", "", "", nil).SetData(map[string]interface{}{
		"command":    command,
		"user_id":    userID,
		"channel_id": channelID,
	})
}

func TestHandleEvent_SlashCommandQuotedArgs(t *testing.T) {
	c, svc := newTestClientService(t)
	ctx := context.Background()

	c.handleEvent(slashCommandEvent(`/question-create "Best colour" "Dark red" "Sky blue"`, owner, "ch"))

	q, err := svc.GetQuestion(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Best colour", q.Text)
	assert.Equal(t, []string{"Dark red", "Sky blue"}, q.Choices)

	c.handleEvent(slashCommandEvent("/question-vote 0 2", "alice", "ch"))

	votes, err := svc.GetVotes(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), votes)
}

func TestHandleEvent_IgnoresOtherEvents(t *testing.T) {
	c, svc := newTestClientService(t)

	c.handleEvent(model.NewWebSocketEvent("posted", "", "ch", owner, nil).SetData(map[string]interface{}{
		"command": `/question-create "Q" "A" "B"`,
	}))
	c.handleEvent(slashCommandEvent("   ", owner, "ch"))

	qs, err := svc.ListQuestions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestPostMessage_NotConnected(t *testing.T) {
	c := newTestClient(t)
	assert.ErrorIs(t, c.PostMessage("ch", "hello"), ErrNotConnected)
	assert.ErrorIs(t, c.RegisterCommands(config.MattermostConfig{}), ErrNotConnected)
	c.Close()
}

func TestSlashCommands(t *testing.T) {
	cmds := slashCommands("http://bot:8080/commands")
	c := newTestClient(t)

	require.Len(t, cmds, len(c.handlers))
	for _, cmd := range cmds {
		assert.Contains(t, c.handlers, cmd.Trigger)
		assert.Equal(t, "http://bot:8080/commands", cmd.URL)
		assert.True(t, cmd.AutoComplete)
	}
}
