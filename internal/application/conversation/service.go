// Package conversation handles the chat flows attached to checks.
package conversation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/webcheckup/webcheckup/internal/ai"
	appcheckup "github.com/webcheckup/webcheckup/internal/application/checkup"
	"github.com/webcheckup/webcheckup/internal/domain/chat"
	domain "github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// maxQuestionLength caps a single user question.
const maxQuestionLength = 500

// Service answers chat requests about a check's results.
type Service struct {
	checkups *appcheckup.Orchestrator
	chatRepo chat.Repository
	agent    ai.Agent
	logger   *zap.Logger
}

// NewService wires the conversation service.
func NewService(checkups *appcheckup.Orchestrator, chatRepo chat.Repository, agent ai.Agent, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		checkups: checkups,
		chatRepo: chatRepo,
		agent:    agent,
		logger:   logger,
	}
}

// SendRequest carries one user turn.
type SendRequest struct {
	CheckupID     string
	CheckID       string
	OwnerID       string
	Question      string
	AttachmentURL string
}

// Messages returns a check's chat history in creation order.
func (s *Service) Messages(ctx context.Context, checkupID, checkID, ownerID string) ([]*chat.Message, error) {
	ch, _, err := s.chatForCheck(ctx, checkupID, checkID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.chatRepo.MessagesByChatID(ctx, ch.ID())
}

// Send stores the user's question and the complete assistant answer.
func (s *Service) Send(ctx context.Context, req SendRequest) (*chat.Message, error) {
	ch, chk, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	history, _, err := s.recordQuestion(ctx, ch, req)
	if err != nil {
		return nil, err
	}

	answer, err := s.agent.Reply(ctx, ai.Request{
		CheckType: chk.Type(),
		Results:   chk.Results(),
		History:   history,
		Question:  req.Question,
	})
	if err != nil {
		return nil, err
	}

	aiMsg, err := chat.NewMessage(ch.ID(), answer, chat.SenderAssistant)
	if err != nil {
		return nil, err
	}
	if err := s.chatRepo.SaveMessage(ctx, aiMsg); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	return aiMsg, nil
}

// SendStream stores the user's question, creates an empty assistant
// message, and streams the answer while appending each chunk to it. The
// chunk channel closes when the answer is complete.
func (s *Service) SendStream(ctx context.Context, req SendRequest) (<-chan string, <-chan error, error) {
	ch, chk, err := s.prepare(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	history, _, err := s.recordQuestion(ctx, ch, req)
	if err != nil {
		return nil, nil, err
	}

	aiMsg, err := chat.NewMessage(ch.ID(), "", chat.SenderAssistant)
	if err != nil {
		return nil, nil, err
	}
	if err := s.chatRepo.SaveMessage(ctx, aiMsg); err != nil {
		return nil, nil, fmt.Errorf("save assistant message: %w", err)
	}

	chunks, agentErrs := s.agent.ReplyStream(ctx, ai.Request{
		CheckType: chk.Type(),
		Results:   chk.Results(),
		History:   history,
		Question:  req.Question,
	})

	out := make(chan string)
	go func() {
		defer close(out)
		for part := range chunks {
			if err := s.chatRepo.AppendMessageContent(ctx, aiMsg.ID(), part); err != nil {
				s.logger.Error("streamed chunk not persisted",
					zap.String("message_id", aiMsg.ID()),
					zap.Error(err),
				)
			}
			select {
			case out <- part:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, agentErrs, nil
}

// ClearHistory deletes a chat's messages and reports how many were removed.
func (s *Service) ClearHistory(ctx context.Context, checkupID, checkID, ownerID string) (int64, error) {
	ch, _, err := s.chatForCheck(ctx, checkupID, checkID, ownerID)
	if err != nil {
		return 0, err
	}
	return s.chatRepo.DeleteMessagesByChatID(ctx, ch.ID())
}

// prepare validates the request and asserts the check has results to talk
// about.
func (s *Service) prepare(ctx context.Context, req SendRequest) (*chat.Chat, *domain.Check, error) {
	if req.Question == "" {
		return nil, nil, sharedErrors.ErrEmptyContent
	}
	if len(req.Question) > maxQuestionLength {
		return nil, nil, sharedErrors.ErrQuestionTooLong
	}

	ch, chk, err := s.chatForCheck(ctx, req.CheckupID, req.CheckID, req.OwnerID)
	if err != nil {
		return nil, nil, err
	}
	if chk.Status() != domain.StatusCompleted || chk.Results() == nil {
		return nil, nil, sharedErrors.ErrCheckNotCompleted
	}
	return ch, chk, nil
}

func (s *Service) chatForCheck(ctx context.Context, checkupID, checkID, ownerID string) (*chat.Chat, *domain.Check, error) {
	chk, err := s.checkups.CheckForOwner(ctx, checkupID, checkID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	ch, err := s.chatRepo.ChatByCheckID(ctx, checkID)
	if err != nil {
		return nil, nil, err
	}
	return ch, chk, nil
}

// recordQuestion loads the history and persists the user's message.
func (s *Service) recordQuestion(ctx context.Context, ch *chat.Chat, req SendRequest) ([]*chat.Message, *chat.Message, error) {
	history, err := s.chatRepo.MessagesByChatID(ctx, ch.ID())
	if err != nil {
		return nil, nil, err
	}

	userMsg, err := chat.NewMessage(ch.ID(), req.Question, chat.SenderUser)
	if err != nil {
		return nil, nil, err
	}
	if req.AttachmentURL != "" {
		userMsg.SetAttachmentURL(req.AttachmentURL)
	}
	if err := s.chatRepo.SaveMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("save user message: %w", err)
	}
	return history, userMsg, nil
}
