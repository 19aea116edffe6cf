package chat

import "context"

// Repository defines the persistence gateway for chats and messages.
type Repository interface {
	// SaveChat persists a new chat thread.
	SaveChat(ctx context.Context, c *Chat) error

	// ChatByCheckID retrieves the chat attached to a check.
	ChatByCheckID(ctx context.Context, checkID string) (*Chat, error)

	// SaveMessage persists a new message.
	SaveMessage(ctx context.Context, m *Message) error

	// AppendMessageContent appends a streamed chunk to a stored message.
	AppendMessageContent(ctx context.Context, messageID, part string) error

	// MessagesByChatID retrieves a chat's messages in creation order.
	MessagesByChatID(ctx context.Context, chatID string) ([]*Message, error)

	// DeleteMessagesByChatID clears a chat's history and reports how many
	// messages were removed.
	DeleteMessagesByChatID(ctx context.Context, chatID string) (int64, error)
}
