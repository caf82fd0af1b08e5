package mattermost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hard-gainer/voting-ledger/internal/config"
	domain "github.com/hard-gainer/voting-ledger/internal/model"
	"github.com/mattermost/mattermost-server/v6/model"
)

// constants for the client
const (
	ReconnectDelay = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("mattermost client is not connected")
)

// LedgerHandler is the ledger surface the bot commands use
type LedgerHandler interface {
	CreateQuestion(ctx context.Context, caller, text string, choices []string) (uint64, error)
	Vote(ctx context.Context, caller string, id uint64, choice int) error
	SetQuestionActive(ctx context.Context, caller string, id uint64, active bool) error
	HasVoted(ctx context.Context, voter string, id uint64) (bool, error)
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	FormatResults(ctx context.Context, id uint64) (string, error)
	Status(ctx context.Context) (domain.Status, error)
}

// CommandHandler defines a function command handler
type CommandHandler func(args []string, userID, channelID string) (string, error)

// Client provides a client for work with Mattermost API
type Client struct {
	mu              sync.RWMutex
	client          *model.Client4
	botUser         *model.User
	webSocketClient *model.WebSocketClient
	closed          bool

	handlers map[string]CommandHandler
	ledger   LedgerHandler
}

// NewClient creates a Mattermost client with its command set registered.
// Commands can be served before Connect is called.
func NewClient(handler LedgerHandler) *Client {
	client := &Client{
		ledger:   handler,
		handlers: make(map[string]CommandHandler),
	}

	client.RegisterCommandHandlers()
	return client
}

// Connect logs in as the bot user and opens the WebSocket
func (c *Client) Connect(cfg config.MattermostConfig) error {
	apiClient := model.NewAPIv4Client(cfg.MattermostBotURL)
	apiClient.SetToken(cfg.MattermostToken)

	botUser, _, err := apiClient.GetMe("")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}

	slog.Info("Connected as bot user", "username", botUser.Username)

	wsURL := strings.Replace(cfg.MattermostBotURL, "http", "ws", 1)
	wsClient, err := model.NewWebSocketClient4(wsURL, cfg.MattermostToken)
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	if err := wsClient.Connect(); err != nil {
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	c.mu.Lock()
	c.client = apiClient
	c.botUser = botUser
	c.webSocketClient = wsClient
	c.mu.Unlock()

	return nil
}

// RegisterCommandHandlers registers command handlers
func (c *Client) RegisterCommandHandlers() {
	c.RegisterCommandHandler("question-create", c.handleQuestionCreate)
	c.RegisterCommandHandler("question-vote", c.handleQuestionVote)
	c.RegisterCommandHandler("question-results", c.handleQuestionResults)
	c.RegisterCommandHandler("question-close", c.handleQuestionClose)
	c.RegisterCommandHandler("question-open", c.handleQuestionOpen)
	c.RegisterCommandHandler("question-list", c.handleQuestionList)
	c.RegisterCommandHandler("question-voted", c.handleQuestionVoted)
	c.RegisterCommandHandler("question-status", c.handleQuestionStatus)
}

// RegisterCommandHandler registers command handler
func (c *Client) RegisterCommandHandler(command string, handler CommandHandler) {
	slog.Debug("Registering handler for command", "command", command)
	c.handlers[command] = handler
}

// slashCommands describes the commands registered with Mattermost
func slashCommands(endpoint string) []*model.Command {
	command := func(trigger, desc, hint string) *model.Command {
		return &model.Command{
			Trigger:          trigger,
			Method:           model.CommandMethodPost,
			AutoComplete:     true,
			AutoCompleteDesc: desc,
			AutoCompleteHint: hint,
			URL:              endpoint,
		}
	}

	return []*model.Command{
		command("question-create", "Create a question (owner only): /question-create \"Text\" \"Choice 1\" \"Choice 2\" ...",
			"\"Text\" \"Choice 1\" \"Choice 2\" ..."),
		command("question-vote", "Vote on a question: /question-vote question-id choice-number", "question-id choice-number"),
		command("question-results", "Show question results: /question-results question-id", "question-id"),
		command("question-close", "Close a question for voting (owner only)", "question-id"),
		command("question-open", "Reopen a question for voting (owner only)", "question-id"),
		command("question-list", "List all questions", ""),
		command("question-voted", "Check whether you voted on a question", "question-id"),
		command("question-status", "Show the ledger owner and totals", ""),
	}
}

// RegisterCommands registers the bot's slash commands in every team it belongs to
func (c *Client) RegisterCommands(cfg config.MattermostConfig) error {
	c.mu.RLock()
	api, botUser := c.client, c.botUser
	c.mu.RUnlock()
	if api == nil {
		return ErrNotConnected
	}

	commandsEndpoint := strings.TrimSuffix(cfg.MattermostBotHTTPAddr, "/") + "/commands"
	slog.Info("Registering slash commands", "url", commandsEndpoint)

	teams, _, err := api.GetTeamsForUser(botUser.Id, "")
	if err != nil {
		return fmt.Errorf("failed to get teams: %w", err)
	}

	for _, team := range teams {
		existing := make(map[string]bool)
		existingCommands, _, err := api.ListCommands(team.Id, true)
		if err != nil {
			slog.Error("Failed to get existing commands", "team", team.Name, "error", err)
		}
		for _, cmd := range existingCommands {
			existing[cmd.Trigger] = true
		}

		for _, cmd := range slashCommands(commandsEndpoint) {
			if existing[cmd.Trigger] {
				continue
			}
			cmd.TeamId = team.Id
			cmd.CreatorId = botUser.Id

			if _, _, err := api.CreateCommand(cmd); err != nil {
				return fmt.Errorf("failed to register command %s: %w", cmd.Trigger, err)
			}

			slog.Info("Registered command", "team", team.Name, "trigger", cmd.Trigger)
		}
	}
	return nil
}

// StartListening starts listening for WebSocket events
func (c *Client) StartListening() {
	c.mu.RLock()
	ws := c.webSocketClient
	c.mu.RUnlock()
	if ws == nil {
		slog.Error("WebSocket is not connected")
		return
	}

	ws.Listen()
	go c.monitorWebSocket(ws)

	slog.Info("Started listening for WebSocket events")
}

// monitorWebSocket consumes events and reconnects when the channel closes
func (c *Client) monitorWebSocket(ws *model.WebSocketClient) {
	for {
		for event := range ws.EventChannel {
			c.handleEvent(event)
		}

		if c.isClosed() {
			return
		}

		slog.Warn("WebSocket channel closed, reconnecting...")
		c.reconnectWebSocket(ws)
		if c.isClosed() {
			return
		}
		ws.Listen()
	}
}

func (c *Client) reconnectWebSocket(ws *model.WebSocketClient) {
	for !c.isClosed() {
		time.Sleep(ReconnectDelay)
		if err := ws.Connect(); err == nil {
			slog.Info("WebSocket reconnected successfully")
			return
		}
		slog.Error("WebSocket reconnect failed, retrying...")
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// handleEvent handles WebSocket event
func (c *Client) handleEvent(event *model.WebSocketEvent) {
	switch event.EventType() {
	case "slash_command":
		c.handleSlashCommand(event)
	}
}

// handleSlashCommand handles commands
func (c *Client) handleSlashCommand(event *model.WebSocketEvent) {
	data := event.GetData()
	command, ok := data["command"].(string)
	if !ok {
		return
	}

	name, args := SplitCommand(command)
	if name == "" {
		return
	}

	userID, ok := data["user_id"].(string)
	if !ok {
		userID = event.GetBroadcast().UserId
	}

	channelID, ok := data["channel_id"].(string)
	if !ok {
		channelID = event.GetBroadcast().ChannelId
	}

	response, err := c.HandleCommand(name, args, userID, channelID)
	if err != nil {
		c.PostMessage(channelID, fmt.Sprintf("Error: %v", err))
		return
	}

	if response != "" {
		c.PostMessage(channelID, response)
	}
}

// PostMessage posts message to the channel
func (c *Client) PostMessage(channelID, message string) error {
	c.mu.RLock()
	api, botUser := c.client, c.botUser
	c.mu.RUnlock()
	if api == nil {
		return ErrNotConnected
	}

	post := &model.Post{
		UserId:    botUser.Id,
		ChannelId: channelID,
		Message:   message,
	}

	if _, _, err := api.CreatePost(post); err != nil {
		slog.Error("Failed to post message", "channel_id", channelID, "error", err)
		return err
	}

	return nil
}

// Close closes WebSocket connection
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	ws := c.webSocketClient
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
		slog.Info("WebSocket client closed")
	}

	slog.Info("Mattermost client connections closed")
}

// HandleCommand implements api.CommandHandler
func (c *Client) HandleCommand(command string, args []string, userID, channelID string) (string, error) {
	commandName := strings.TrimPrefix(command, "/")

	handler, exists := c.handlers[commandName]
	if !exists {
		return "", fmt.Errorf("unknown command: %s", commandName)
	}

	return handler(args, userID, channelID)
}
