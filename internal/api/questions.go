package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/hard-gainer/voting-ledger/internal/ledger"
)

// CreateQuestionRequest is the body of POST /questions. Text and choices
// are checked by the ledger.
type CreateQuestionRequest struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices"`
}

// CreateQuestionResponse is returned for a created question
type CreateQuestionResponse struct {
	ID uint64 `json:"id"`
}

// VoteRequest is the body of POST /questions/{id}/votes
type VoteRequest struct {
	Choice *int `json:"choice" validate:"required"`
}

// SetActiveRequest is the body of POST /questions/{id}/active
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// VotesResponse is the vote count of one choice
type VotesResponse struct {
	QuestionID uint64 `json:"question_id"`
	Choice     int    `json:"choice"`
	Votes      uint64 `json:"votes"`
}

// HasVotedResponse reports a voter's record on a question
type HasVotedResponse struct {
	QuestionID uint64 `json:"question_id"`
	Voter      string `json:"voter"`
	HasVoted   bool   `json:"has_voted"`
}

// ErrorResponse is the body of every failed request. Kind is the ledger
// error kind when there is one.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

func (h *HTTPHandler) createQuestion(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req CreateQuestionRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.ledger.CreateQuestion(r.Context(), caller, req.Text, req.Choices)
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}

	JSONResponse(w, http.StatusCreated, CreateQuestionResponse{ID: id})
}

func (h *HTTPHandler) vote(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := questionID(w, r)
	if !ok {
		return
	}

	var req VoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.ledger.Vote(r.Context(), caller, id, *req.Choice); err != nil {
		LedgerErrorResponse(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) setQuestionActive(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := questionID(w, r)
	if !ok {
		return
	}

	var req SetActiveRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.ledger.SetQuestionActive(r.Context(), caller, id, *req.Active); err != nil {
		LedgerErrorResponse(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.ledger.ListQuestions(r.Context())
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, questions)
}

func (h *HTTPHandler) getQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}

	q, err := h.ledger.GetQuestion(r.Context(), id)
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, q)
}

func (h *HTTPHandler) getResults(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}

	res, err := h.ledger.GetResults(r.Context(), id)
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, res)
}

func (h *HTTPHandler) getVotes(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	choice, err := strconv.Atoi(r.PathValue("choice"))
	if err != nil {
		ErrorResponseWithKind(w, http.StatusBadRequest, "choice must be an integer", "invalid_request")
		return
	}

	votes, err := h.ledger.GetVotes(r.Context(), id, choice)
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, VotesResponse{QuestionID: id, Choice: choice, Votes: votes})
}

func (h *HTTPHandler) hasVoted(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	voter := r.PathValue("voter")

	voted, err := h.ledger.HasVoted(r.Context(), voter, id)
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, HasVotedResponse{QuestionID: id, Voter: voter, HasVoted: voted})
}

func (h *HTTPHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if s := r.URL.Query().Get("from"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			ErrorResponseWithKind(w, http.StatusBadRequest, "from must be a non-negative integer", "invalid_request")
			return
		}
		from = v
	}

	events, err := h.ledger.Events(r.Context(), from)
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, events)
}

func (h *HTTPHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.ledger.Status(r.Context())
	if err != nil {
		LedgerErrorResponse(w, err)
		return
	}
	JSONResponse(w, http.StatusOK, st)
}

// decode parses and validates a JSON body, writing a 400 on failure
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		ErrorResponseWithKind(w, http.StatusBadRequest, "Invalid JSON", "invalid_request")
		return false
	}

	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		message := err.Error()
		if errors.As(err, &verrs) && len(verrs) > 0 {
			message = verrs[0].Field() + " is " + verrs[0].Tag()
		}
		ErrorResponseWithKind(w, http.StatusBadRequest, message, "invalid_request")
		return false
	}

	return true
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := r.Header.Get(CallerHeader)
	if caller == "" {
		ErrorResponseWithKind(w, http.StatusUnauthorized, CallerHeader+" header required", "unauthenticated")
		return "", false
	}
	return caller, true
}

func questionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		ErrorResponseWithKind(w, http.StatusBadRequest, "question id must be a non-negative integer", "invalid_request")
		return 0, false
	}
	return id, true
}

// LedgerErrorResponse maps a ledger error to its HTTP status
func LedgerErrorResponse(w http.ResponseWriter, err error) {
	kind := ledger.ErrorKind(err)

	var status int
	switch kind {
	case "unauthorized":
		status = http.StatusForbidden
	case "not_found":
		status = http.StatusNotFound
	case "invalid_question", "invalid_choice":
		status = http.StatusBadRequest
	case "question_inactive", "already_voted":
		status = http.StatusConflict
	default:
		slog.Error("ledger request failed", "error", err)
		ErrorResponseWithKind(w, http.StatusInternalServerError, "Internal error", kind)
		return
	}

	ErrorResponseWithKind(w, status, err.Error(), kind)
}

// JSONResponse writes a JSON response
func JSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// ErrorResponseWithKind writes a JSON error response
func ErrorResponseWithKind(w http.ResponseWriter, statusCode int, message, kind string) {
	JSONResponse(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Kind:    kind,
	})
}
