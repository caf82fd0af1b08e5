package notification

// MessageSender posts a Markdown message to a chat channel. The Mattermost
// client implements it; the service uses it to announce committed ledger
// transactions.
type MessageSender interface {
	PostMessage(channelID, message string) error
}
