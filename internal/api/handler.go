package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hard-gainer/voting-ledger/internal/config"
	"github.com/hard-gainer/voting-ledger/internal/mattermost"
	"github.com/hard-gainer/voting-ledger/internal/metrics"
	"github.com/hard-gainer/voting-ledger/internal/model"
)

// CallerHeader carries the authenticated caller identity, set by the
// gateway in front of this service
const CallerHeader = "X-Caller-ID"

// CommandHandler represents an interface for handling slash commands
type CommandHandler interface {
	HandleCommand(command string, args []string, userID, channelID string) (string, error)
}

// LedgerService is the submission and query surface the API serves
type LedgerService interface {
	CreateQuestion(ctx context.Context, caller, text string, choices []string) (uint64, error)
	Vote(ctx context.Context, caller string, id uint64, choice int) error
	SetQuestionActive(ctx context.Context, caller string, id uint64, active bool) error
	GetQuestion(ctx context.Context, id uint64) (model.Question, error)
	GetVotes(ctx context.Context, id uint64, choice int) (uint64, error)
	HasVoted(ctx context.Context, voter string, id uint64) (bool, error)
	ListQuestions(ctx context.Context) ([]model.Question, error)
	GetResults(ctx context.Context, id uint64) (model.Results, error)
	Events(ctx context.Context, fromSeq uint64) ([]model.Event, error)
	Status(ctx context.Context) (model.Status, error)
}

// CommandRequest represents a request to execute a command
type CommandRequest struct {
	Command     string   `json:"command" form:"command"`
	Text        string   `json:"text" form:"text"`
	Args        []string `json:"args" form:"-"`
	UserID      string   `json:"user_id" form:"user_id"`
	ChannelID   string   `json:"channel_id" form:"channel_id"`
	TeamID      string   `json:"team_id" form:"team_id"`
	TeamDomain  string   `json:"team_domain" form:"team_domain"`
	ResponseURL string   `json:"response_url" form:"response_url"`
}

// CommandResponse represents an answer to execute a command
type CommandResponse struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

// HTTPHandler serves the slash command endpoint and the ledger REST API
type HTTPHandler struct {
	server         *http.Server
	commandHandler CommandHandler
	ledger         LedgerService
	metrics        *metrics.Metrics
	validate       *validator.Validate
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(cfg config.MattermostConfig, svc LedgerService, commands CommandHandler, m *metrics.Metrics) *HTTPHandler {
	h := &HTTPHandler{
		commandHandler: commands,
		ledger:         svc,
		metrics:        m,
		validate:       validator.New(),
	}

	h.server = &http.Server{
		Addr:         strings.TrimPrefix(cfg.MattermostBotHTTPPort, "http://"),
		Handler:      h.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Routes builds the request multiplexer
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", h.metrics.Handler())

	mux.HandleFunc("POST /commands", h.withMetrics("commands", h.handleCommand))

	// Submission channel
	mux.HandleFunc("POST /questions", h.withMetrics("create_question", h.createQuestion))
	mux.HandleFunc("POST /questions/{id}/votes", h.withMetrics("vote", h.vote))
	mux.HandleFunc("POST /questions/{id}/active", h.withMetrics("set_question_active", h.setQuestionActive))

	// Query channel
	mux.HandleFunc("GET /questions", h.withMetrics("list_questions", h.listQuestions))
	mux.HandleFunc("GET /questions/{id}", h.withMetrics("get_question", h.getQuestion))
	mux.HandleFunc("GET /questions/{id}/results", h.withMetrics("get_results", h.getResults))
	mux.HandleFunc("GET /questions/{id}/votes/{choice}", h.withMetrics("get_votes", h.getVotes))
	mux.HandleFunc("GET /questions/{id}/voters/{voter}", h.withMetrics("has_voted", h.hasVoted))
	mux.HandleFunc("GET /events", h.withMetrics("events", h.listEvents))
	mux.HandleFunc("GET /status", h.withMetrics("status", h.status))

	return mux
}

// Start starts an HTTP-server
func (h *HTTPHandler) Start() {
	go func() {
		slog.Info("Starting HTTP server", "address", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	slog.Info("HTTP server started")
}

// Stop stops an HTTP-server
func (h *HTTPHandler) Stop() error {
	slog.Info("Shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// withMetrics logs the request and records its duration under route
func (h *HTTPHandler) withMetrics(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		duration := time.Since(start)

		h.metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
		slog.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"duration_ms", duration.Milliseconds(),
		)
	}
}

// handleCommand handles command requests
func (h *HTTPHandler) handleCommand(w http.ResponseWriter, r *http.Request) {
	slog.Info("Received command request",
		"method", r.Method,
		"content-type", r.Header.Get("Content-Type"),
		"url", r.URL.String())

	var commandName string
	var args []string
	var userID, channelID string

	contentType := r.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/json") {
		var req CommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Error("Failed to parse JSON request", "error", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		commandName = req.Command
		args = req.Args
		if len(args) == 0 && req.Text != "" {
			args = mattermost.ParseCommandArgs(req.Text)
		}
		userID = req.UserID
		channelID = req.ChannelID
	} else {
		if err := r.ParseForm(); err != nil {
			slog.Error("Failed to parse form data", "error", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		commandName = r.Form.Get("command")
		text := r.Form.Get("text")
		userID = r.Form.Get("user_id")
		channelID = r.Form.Get("channel_id")

		if text != "" {
			args = mattermost.ParseCommandArgs(text)
			slog.Debug("Parsed arguments", "count", len(args), "args", args)
		}
	}

	commandName = strings.TrimPrefix(commandName, "/")

	slog.Info("Processing command",
		"command", commandName,
		"args", args,
		"user_id", userID,
		"channel_id", channelID)

	response, err := h.commandHandler.HandleCommand(commandName, args, userID, channelID)
	if err != nil {
		slog.Error("Failed to handle command", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	JSONResponse(w, http.StatusOK, CommandResponse{
		ResponseType: "in_channel",
		Text:         response,
	})
}
