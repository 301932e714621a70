package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	billingsvc "github.com/hsdarestani/HamAan/internal/services/billing"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotOwner             = errors.New("conversation belongs to another user")
	ErrPaywall              = errors.New("not enough coins for a reply")
	ErrWalletFrozen         = errors.New("wallet is frozen")
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

type ConversationStore interface {
	GetOrCreateActive(ctx context.Context, userID int64, persona string) (pgrepo.ConversationRecord, bool, error)
	FindByID(ctx context.Context, conversationID int64) (pgrepo.ConversationRecord, error)
	AppendMessage(ctx context.Context, p pgrepo.AppendMessageParams) (pgrepo.MessageRecord, error)
	ListMessages(ctx context.Context, conversationID, afterSeq int64, limit int) ([]pgrepo.MessageRecord, error)
}

type Biller interface {
	Apply(ctx context.Context, in billingsvc.ApplyInput) (billingsvc.ApplyResult, error)
}

type ReplyLimiter interface {
	AllowReply(ctx context.Context, userID int64) (int64, bool, error)
}

// Responder produces the assistant's turn. The real persona engine lives
// behind this interface; the default keeps conversations flowing in
// environments without one.
type Responder interface {
	Reply(ctx context.Context, persona, userText string) (string, error)
}

type Service struct {
	conversations  ConversationStore
	biller         Biller
	limiter        ReplyLimiter
	responder      Responder
	replyCost      int64
	defaultPersona string
	historyPage    int
}

type Dependencies struct {
	Conversations  ConversationStore
	Biller         Biller
	Limiter        ReplyLimiter
	Responder      Responder
	ReplyCost      int64
	DefaultPersona string
	HistoryPage    int
}

type ReplyInput struct {
	UserID         int64
	ConversationID int64
	Text           string
	ClientMsgID    string
}

type ReplyOutput struct {
	Limited       bool
	RetryAfterSec int64
	UserMessage   pgrepo.MessageRecord
	Assistant     pgrepo.MessageRecord
	BalanceAfter  int64
	CostReplayed  bool
}

func NewService(deps Dependencies) *Service {
	cost := deps.ReplyCost
	if cost <= 0 {
		cost = 1
	}
	persona := strings.TrimSpace(deps.DefaultPersona)
	if persona == "" {
		persona = "hamdam-01"
	}
	page := deps.HistoryPage
	if page <= 0 {
		page = 50
	}
	responder := deps.Responder
	if responder == nil {
		responder = staticResponder{}
	}
	return &Service{
		conversations:  deps.Conversations,
		biller:         deps.Biller,
		limiter:        deps.Limiter,
		responder:      responder,
		replyCost:      cost,
		defaultPersona: persona,
		historyPage:    page,
	}
}

// Open returns the user's active conversation for the persona, creating it
// on first contact.
func (s *Service) Open(ctx context.Context, userID int64, persona string) (pgrepo.ConversationRecord, bool, error) {
	if s.conversations == nil {
		return pgrepo.ConversationRecord{}, false, fmt.Errorf("conversation store is nil")
	}
	if userID <= 0 {
		return pgrepo.ConversationRecord{}, false, ErrValidation
	}
	if persona = strings.TrimSpace(persona); persona == "" {
		persona = s.defaultPersona
	}
	return s.conversations.GetOrCreateActive(ctx, userID, persona)
}

// Reply records the user's turn, debits the reply cost from the wallet and
// appends the assistant's answer. The debit happens before the assistant
// turn, so a user who cannot pay never consumes the responder.
func (s *Service) Reply(ctx context.Context, in ReplyInput) (ReplyOutput, error) {
	if s.conversations == nil || s.biller == nil {
		return ReplyOutput{}, fmt.Errorf("chat dependencies are not configured")
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.UserID <= 0 || in.ConversationID <= 0 || in.Text == "" {
		return ReplyOutput{}, ErrValidation
	}

	if s.limiter != nil {
		retryAfter, allowed, err := s.limiter.AllowReply(ctx, in.UserID)
		if err != nil {
			return ReplyOutput{}, err
		}
		if !allowed {
			return ReplyOutput{Limited: true, RetryAfterSec: retryAfter}, nil
		}
	}

	conv, err := s.conversations.FindByID(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrConversationNotFound) {
			return ReplyOutput{}, ErrConversationNotFound
		}
		return ReplyOutput{}, err
	}
	if conv.UserID != in.UserID {
		return ReplyOutput{}, ErrNotOwner
	}

	idem := ""
	if key := strings.TrimSpace(in.ClientMsgID); key != "" {
		idem = fmt.Sprintf("reply:%d:%s", conv.ID, key)
	}

	debit, err := s.biller.Apply(ctx, billingsvc.ApplyInput{
		UserID:         in.UserID,
		Delta:          -s.replyCost,
		Reason:         "CHAT_REPLY_DEBIT",
		RefType:        "conversation",
		RefID:          fmt.Sprintf("%d", conv.ID),
		IdempotencyKey: idem,
		Meta:           map[string]any{"persona": conv.Persona},
	})
	if err != nil {
		switch {
		case errors.Is(err, billingsvc.ErrInsufficientBalance):
			return ReplyOutput{}, ErrPaywall
		case errors.Is(err, billingsvc.ErrWalletFrozen):
			return ReplyOutput{}, ErrWalletFrozen
		default:
			return ReplyOutput{}, err
		}
	}

	userMsg, err := s.conversations.AppendMessage(ctx, pgrepo.AppendMessageParams{
		ConversationID: conv.ID,
		Role:           roleUser,
		Body:           in.Text,
	})
	if err != nil {
		return ReplyOutput{}, err
	}

	answer, err := s.responder.Reply(ctx, conv.Persona, in.Text)
	if err != nil {
		return ReplyOutput{}, fmt.Errorf("responder: %w", err)
	}

	assistant, err := s.conversations.AppendMessage(ctx, pgrepo.AppendMessageParams{
		ConversationID: conv.ID,
		Role:           roleAssistant,
		Body:           answer,
		CostTxnID:      debit.Txn.ID,
	})
	if err != nil {
		return ReplyOutput{}, err
	}

	return ReplyOutput{
		UserMessage:  userMsg,
		Assistant:    assistant,
		BalanceAfter: debit.Txn.BalanceAfter,
		CostReplayed: debit.Idempotent,
	}, nil
}

// History lists messages in order, resuming after afterSeq.
func (s *Service) History(ctx context.Context, userID, conversationID, afterSeq int64, limit int) ([]pgrepo.MessageRecord, error) {
	if s.conversations == nil {
		return nil, fmt.Errorf("conversation store is nil")
	}
	if userID <= 0 || conversationID <= 0 || afterSeq < 0 {
		return nil, ErrValidation
	}
	if limit <= 0 || limit > s.historyPage {
		limit = s.historyPage
	}

	conv, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrConversationNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrNotOwner
	}

	return s.conversations.ListMessages(ctx, conversationID, afterSeq, limit)
}

type staticResponder struct{}

func (staticResponder) Reply(_ context.Context, _, _ string) (string, error) {
	return "...", nil
}
