package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hard-gainer/voting-ledger/internal/config"
	"github.com/hard-gainer/voting-ledger/internal/db"
	"github.com/hard-gainer/voting-ledger/internal/ledger"
	"github.com/hard-gainer/voting-ledger/internal/metrics"
	"github.com/hard-gainer/voting-ledger/internal/model"
	"github.com/hard-gainer/voting-ledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "owner"

type recordedCommand struct {
	command   string
	args      []string
	userID    string
	channelID string
}

type fakeCommands struct {
	calls []recordedCommand
	reply string
	err   error
}

func (f *fakeCommands) HandleCommand(command string, args []string, userID, channelID string) (string, error) {
	f.calls = append(f.calls, recordedCommand{command, args, userID, channelID})
	return f.reply, f.err
}

func setupHandler(t *testing.T) (http.Handler, *fakeCommands) {
	t.Helper()
	storage := db.NewMemoryStorage()
	m := metrics.NewMetrics()
	svc := service.NewService(ledger.New(owner, ledger.WithJournal(storage)), storage, m, "")
	commands := &fakeCommands{reply: "done"}
	h := NewHTTPHandler(config.MattermostConfig{MattermostBotHTTPPort: ":0"}, svc, commands, m)
	return h.Routes(), commands
}

func do(t *testing.T, h http.Handler, method, path, caller string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func createColorQuestion(t *testing.T, h http.Handler) uint64 {
	t.Helper()
	w := do(t, h, "POST", "/questions", owner, CreateQuestionRequest{
		Text:    "Favourite colour?",
		Choices: []string{"Red", "Blue", "Green"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp CreateQuestionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.ID
}

func TestVotingFlow(t *testing.T) {
	h, _ := setupHandler(t)

	id := createColorQuestion(t, h)
	assert.Equal(t, uint64(0), id)

	w := do(t, h, "POST", "/questions/0/votes", "alice", map[string]int{"choice": 1})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "POST", "/questions/0/votes", "alice", map[string]int{"choice": 2})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_voted", decodeError(t, w).Kind)

	w = do(t, h, "POST", "/questions/0/votes", "bob", map[string]int{"choice": 1})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "GET", "/questions/0/votes/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var votes VotesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&votes))
	assert.Equal(t, uint64(2), votes.Votes)

	w = do(t, h, "GET", "/questions/0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var q model.Question
	require.NoError(t, json.NewDecoder(w.Body).Decode(&q))
	assert.Equal(t, uint64(2), q.TotalVotes)
	assert.Equal(t, []string{"Red", "Blue", "Green"}, q.Choices)

	// Owner closes the question
	w = do(t, h, "POST", "/questions/0/active", owner, map[string]bool{"active": false})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "POST", "/questions/0/votes", "carol", map[string]int{"choice": 0})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "question_inactive", decodeError(t, w).Kind)

	w = do(t, h, "GET", "/questions/0/results", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res model.Results
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, uint64(2), res.TotalVotes)
	assert.False(t, res.IsActive)
	assert.Equal(t, 100.0, res.Choices[1].Percentage)

	w = do(t, h, "GET", "/questions/0/voters/alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hv HasVotedResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&hv))
	assert.True(t, hv.HasVoted)

	w = do(t, h, "GET", "/questions/0/voters/carol", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&hv))
	assert.False(t, hv.HasVoted)
}

func TestErrorMapping(t *testing.T) {
	h, _ := setupHandler(t)
	createColorQuestion(t, h)

	testCases := []struct {
		name       string
		method     string
		path       string
		caller     string
		body       interface{}
		wantStatus int
		wantKind   string
	}{
		{"NonOwnerCreate", "POST", "/questions", "mallory",
			CreateQuestionRequest{Text: "Mine?", Choices: []string{"A", "B"}}, http.StatusForbidden, "unauthorized"},
		{"OneChoice", "POST", "/questions", owner,
			CreateQuestionRequest{Text: "One?", Choices: []string{"A"}}, http.StatusBadRequest, "invalid_question"},
		{"MissingChoices", "POST", "/questions", owner,
			map[string]string{"text": "None?"}, http.StatusBadRequest, "invalid_question"},
		{"EmptyTextNonOwner", "POST", "/questions", "mallory",
			CreateQuestionRequest{Choices: []string{"A", "B"}}, http.StatusForbidden, "unauthorized"},
		{"EmptyTextOwner", "POST", "/questions", owner,
			CreateQuestionRequest{Choices: []string{"A", "B"}}, http.StatusBadRequest, "invalid_question"},
		{"MissingCaller", "POST", "/questions", "",
			CreateQuestionRequest{Text: "Who?", Choices: []string{"A", "B"}}, http.StatusUnauthorized, "unauthenticated"},
		{"VoteUnknownQuestion", "POST", "/questions/9/votes", "alice",
			map[string]int{"choice": 0}, http.StatusNotFound, "not_found"},
		{"VoteBadChoice", "POST", "/questions/0/votes", "alice",
			map[string]int{"choice": 5}, http.StatusBadRequest, "invalid_choice"},
		{"VoteMissingChoice", "POST", "/questions/0/votes", "alice",
			map[string]string{}, http.StatusBadRequest, "invalid_request"},
		{"VoteBadID", "POST", "/questions/abc/votes", "alice",
			map[string]int{"choice": 0}, http.StatusBadRequest, "invalid_request"},
		{"NonOwnerToggle", "POST", "/questions/0/active", "mallory",
			map[string]bool{"active": false}, http.StatusForbidden, "unauthorized"},
		{"GetUnknown", "GET", "/questions/4", "", nil, http.StatusNotFound, "not_found"},
		{"VotesBadChoice", "GET", "/questions/0/votes/3", "", nil, http.StatusBadRequest, "invalid_choice"},
		{"HasVotedUnknown", "GET", "/questions/4/voters/alice", "", nil, http.StatusNotFound, "not_found"},
		{"EventsBadFrom", "GET", "/events?from=-1", "", nil, http.StatusBadRequest, "invalid_request"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, tc.method, tc.path, tc.caller, tc.body)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tc.wantKind, decodeError(t, w).Kind)
		})
	}

	// None of the rejected calls changed state
	w := do(t, h, "GET", "/questions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var qs []model.Question
	require.NoError(t, json.NewDecoder(w.Body).Decode(&qs))
	require.Len(t, qs, 1)
	assert.Equal(t, uint64(0), qs[0].TotalVotes)
	assert.True(t, qs[0].IsActive)
}

func TestListEvents(t *testing.T) {
	h, _ := setupHandler(t)
	createColorQuestion(t, h)
	do(t, h, "POST", "/questions/0/votes", "alice", map[string]int{"choice": 0})

	w := do(t, h, "GET", "/events", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []model.Event
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	require.Len(t, events, 2)
	assert.Equal(t, model.EventVoteCast, events[1].Kind)
	assert.Equal(t, "alice", events[1].Caller)

	w = do(t, h, "GET", "/events?from=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, uint64(2), events[0].Seq)
}

func TestStatus(t *testing.T) {
	h, _ := setupHandler(t)

	w := do(t, h, "GET", "/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st model.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, model.Status{Owner: owner}, st)

	createColorQuestion(t, h)
	do(t, h, "POST", "/questions/0/votes", "alice", map[string]int{"choice": 0})

	w = do(t, h, "GET", "/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, owner, st.Owner)
	assert.Equal(t, uint64(1), st.QuestionCount)
	assert.Equal(t, uint64(1), st.ActiveQuestions)
	assert.Equal(t, uint64(1), st.TotalVotes)
	assert.Equal(t, uint64(2), st.LastSeq)
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := setupHandler(t)
	createColorQuestion(t, h)

	w := do(t, h, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = do(t, h, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `voting_ledger_submissions_total{operation="create_question",outcome="ok"} 1`)
	assert.Contains(t, w.Body.String(), "voting_http_request_duration_seconds")
}

func TestHandleCommand_Form(t *testing.T) {
	h, commands := setupHandler(t)

	form := url.Values{}
	form.Set("command", "/question-create")
	form.Set("text", `"Coffee or tea?" "Coffee" "Green tea"`)
	form.Set("user_id", "u1")
	form.Set("channel_id", "c1")

	req := httptest.NewRequest("POST", "/commands", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp CommandResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "in_channel", resp.ResponseType)
	assert.Equal(t, "done", resp.Text)

	require.Len(t, commands.calls, 1)
	call := commands.calls[0]
	assert.Equal(t, "question-create", call.command)
	assert.Equal(t, []string{"Coffee or tea?", "Coffee", "Green tea"}, call.args)
	assert.Equal(t, "u1", call.userID)
	assert.Equal(t, "c1", call.channelID)
}

func TestHandleCommand_JSON(t *testing.T) {
	h, commands := setupHandler(t)

	w := do(t, h, "POST", "/commands", "", CommandRequest{
		Command: "question-vote",
		Text:    "0 2",
		UserID:  "u2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, commands.calls, 1)
	assert.Equal(t, []string{"0", "2"}, commands.calls[0].args)

	req := httptest.NewRequest("POST", "/commands", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
