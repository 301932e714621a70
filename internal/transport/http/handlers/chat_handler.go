package handlers

import (
	"errors"
	"net/http"

	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
	chatsvc "github.com/hsdarestani/HamAan/internal/services/chat"
	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
	"github.com/hsdarestani/HamAan/internal/transport/http/dto"
	httperrors "github.com/hsdarestani/HamAan/internal/transport/http/errors"
)

type ChatHandler struct {
	chat  *chatsvc.Service
	users *userssvc.Service
}

func NewChatHandler(chat *chatsvc.Service, users *userssvc.Service) *ChatHandler {
	return &ChatHandler{chat: chat, users: users}
}

func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeInternal(w, "CHAT_SERVICE_UNAVAILABLE", "chat service is unavailable")
		return
	}

	var req dto.ConversationOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	conv, created, err := h.chat.Open(r.Context(), userID, req.Persona)
	if err != nil {
		if errors.Is(err, chatsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid conversation request")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to open conversation")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ConversationResponse{
		ConversationID: conv.ID,
		Persona:        conv.Persona,
		Created:        created,
	})
}

// Reply charges one reply cost per turn. An empty wallet answers 402 with a
// PAYWALL code so clients can route to the coin shop.
func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeInternal(w, "CHAT_SERVICE_UNAVAILABLE", "chat service is unavailable")
		return
	}

	var req dto.ChatReplyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, req.TelegramID)
	if !ok {
		return
	}

	out, err := h.chat.Reply(r.Context(), chatsvc.ReplyInput{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Text:           req.Text,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		switch {
		case errors.Is(err, chatsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid reply payload")
		case errors.Is(err, chatsvc.ErrConversationNotFound), errors.Is(err, chatsvc.ErrNotOwner):
			writeNotFound(w, "CONVERSATION_NOT_FOUND", "conversation not found")
		case errors.Is(err, chatsvc.ErrPaywall):
			httperrors.Write(w, http.StatusPaymentRequired, httperrors.APIError{
				Code:    "PAYWALL",
				Message: "not enough coins for a reply",
			})
		case errors.Is(err, chatsvc.ErrWalletFrozen):
			httperrors.Write(w, http.StatusLocked, httperrors.APIError{
				Code:    "WALLET_FROZEN",
				Message: "wallet is frozen",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to process reply")
		}
		return
	}

	if out.Limited {
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
			Code:          "RATE_LIMITED",
			Message:       "too many replies, slow down",
			RetryAfterSec: out.RetryAfterSec,
		})
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ChatReplyResponse{
		UserMessage:  messageItem(out.UserMessage),
		Assistant:    messageItem(out.Assistant),
		BalanceAfter: out.BalanceAfter,
	})
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeInternal(w, "CHAT_SERVICE_UNAVAILABLE", "chat service is unavailable")
		return
	}

	userID, ok := resolveTelegramUser(w, r, h.users, queryInt64(r, "telegram_id"))
	if !ok {
		return
	}

	conversationID := queryInt64(r, "conversation_id")
	messages, err := h.chat.History(r.Context(), userID, conversationID, queryInt64(r, "after_seq"), queryInt(r, "limit"))
	if err != nil {
		switch {
		case errors.Is(err, chatsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid history request")
		case errors.Is(err, chatsvc.ErrConversationNotFound), errors.Is(err, chatsvc.ErrNotOwner):
			writeNotFound(w, "CONVERSATION_NOT_FOUND", "conversation not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to load history")
		}
		return
	}

	items := make([]dto.MessageItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, messageItem(m))
	}
	httperrors.Write(w, http.StatusOK, dto.ChatHistoryResponse{
		ConversationID: conversationID,
		Items:          items,
	})
}

func messageItem(rec pgrepo.MessageRecord) dto.MessageItem {
	return dto.MessageItem{
		ID:        rec.ID,
		Seq:       rec.Seq,
		Role:      rec.Role,
		Body:      rec.Body,
		CreatedAt: rec.CreatedAt,
	}
}
