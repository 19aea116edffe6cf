package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/webcheckup/webcheckup/internal/domain/chat"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// ChatRepository implements chat.Repository on SQLite.
type ChatRepository struct {
	db *sql.DB
}

// NewChatRepository creates a SQLite-backed chat repository.
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) SaveChat(ctx context.Context, ch *chat.Chat) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chats (id, check_id) VALUES (?, ?)`,
		ch.ID(), ch.CheckID())
	if err != nil {
		return fmt.Errorf("%w: save chat: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

func (r *ChatRepository) ChatByCheckID(ctx context.Context, checkID string) (*chat.Chat, error) {
	var id string
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM chats WHERE check_id = ?`, checkID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sharedErrors.ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load chat: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	messages, err := r.MessagesByChatID(ctx, id)
	if err != nil {
		return nil, err
	}
	return chat.ReconstructChat(id, checkID, messages), nil
}

func (r *ChatRepository) SaveMessage(ctx context.Context, m *chat.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, content, attachment_url, sender, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID(), m.ChatID(), m.Content(), m.AttachmentURL(), string(m.Sender()), m.CreatedAt().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: save message: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

func (r *ChatRepository) AppendMessageContent(ctx context.Context, messageID, part string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET content = content || ? WHERE id = ?`, part, messageID)
	if err != nil {
		return fmt.Errorf("%w: append message content: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	if affected == 0 {
		return sharedErrors.ErrMessageNotFound
	}
	return nil
}

func (r *ChatRepository) MessagesByChatID(ctx context.Context, chatID string) ([]*chat.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, content, attachment_url, sender, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var (
			id            string
			content       string
			attachmentURL string
			sender        string
			createdAt     int64
		)
		if err := rows.Scan(&id, &content, &attachmentURL, &sender, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", sharedErrors.ErrRepositoryOperation, err)
		}
		messages = append(messages, chat.ReconstructMessage(
			id, chatID, content, attachmentURL, chat.SenderType(sender), time.Unix(0, createdAt).UTC()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return messages, nil
}

func (r *ChatRepository) DeleteMessagesByChatID(ctx context.Context, chatID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete messages: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return affected, nil
}
