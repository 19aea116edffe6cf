package chat

import (
	"time"

	"github.com/google/uuid"

	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// SenderType identifies who wrote a message.
type SenderType string

const (
	SenderUser      SenderType = "user"
	SenderSystem    SenderType = "system"
	SenderAssistant SenderType = "assistant"
)

// Chat is the conversation thread attached 1:1 to a check. It exists from
// the moment the check does, so the UI can open it before results land.
type Chat struct {
	id       string
	checkID  string
	messages []*Message
}

// NewChat creates a chat for a check.
func NewChat(checkID string) (*Chat, error) {
	if checkID == "" {
		return nil, sharedErrors.ErrMissingRequired
	}
	return &Chat{
		id:      uuid.NewString(),
		checkID: checkID,
	}, nil
}

// ReconstructChat creates a chat from persisted data.
func ReconstructChat(id, checkID string, messages []*Message) *Chat {
	return &Chat{id: id, checkID: checkID, messages: messages}
}

func (c *Chat) ID() string {
	return c.id
}

func (c *Chat) CheckID() string {
	return c.checkID
}

func (c *Chat) Messages() []*Message {
	messagesCopy := make([]*Message, len(c.messages))
	copy(messagesCopy, c.messages)
	return messagesCopy
}

// Message is one turn in a chat. Content is append-only while an assistant
// reply streams and immutable after.
type Message struct {
	id            string
	chatID        string
	content       string
	attachmentURL string
	sender        SenderType
	createdAt     time.Time
}

// NewMessage creates a message. Assistant messages may start empty and be
// appended to while streaming; user and system messages must carry content.
func NewMessage(chatID, content string, sender SenderType) (*Message, error) {
	if chatID == "" {
		return nil, sharedErrors.ErrMissingRequired
	}
	if content == "" && sender != SenderAssistant {
		return nil, sharedErrors.ErrEmptyContent
	}
	return &Message{
		id:        uuid.NewString(),
		chatID:    chatID,
		content:   content,
		sender:    sender,
		createdAt: time.Now().UTC(),
	}, nil
}

// ReconstructMessage creates a message from persisted data.
func ReconstructMessage(id, chatID, content, attachmentURL string, sender SenderType, createdAt time.Time) *Message {
	return &Message{
		id:            id,
		chatID:        chatID,
		content:       content,
		attachmentURL: attachmentURL,
		sender:        sender,
		createdAt:     createdAt,
	}
}

// SetAttachmentURL records a reference to an uploaded attachment.
func (m *Message) SetAttachmentURL(url string) {
	m.attachmentURL = url
}

// AppendContent adds a streamed chunk to the message content.
func (m *Message) AppendContent(part string) {
	m.content += part
}

func (m *Message) ID() string {
	return m.id
}

func (m *Message) ChatID() string {
	return m.chatID
}

func (m *Message) Content() string {
	return m.content
}

func (m *Message) AttachmentURL() string {
	return m.attachmentURL
}

func (m *Message) Sender() SenderType {
	return m.sender
}

func (m *Message) CreatedAt() time.Time {
	return m.createdAt
}
