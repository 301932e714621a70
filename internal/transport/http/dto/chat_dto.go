package dto

import "time"

type ConversationOpenRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Persona    string `json:"persona,omitempty"`
}

type ConversationResponse struct {
	ConversationID int64  `json:"conversation_id"`
	Persona        string `json:"persona"`
	Created        bool   `json:"created"`
}

type ChatReplyRequest struct {
	TelegramID     int64  `json:"telegram_id"`
	ConversationID int64  `json:"conversation_id"`
	Text           string `json:"text"`
	ClientMsgID    string `json:"client_msg_id,omitempty"`
}

type MessageItem struct {
	ID        int64     `json:"id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatReplyResponse struct {
	UserMessage  MessageItem `json:"user_message"`
	Assistant    MessageItem `json:"assistant"`
	BalanceAfter int64       `json:"balance_after"`
}

type ChatHistoryResponse struct {
	ConversationID int64         `json:"conversation_id"`
	Items          []MessageItem `json:"items"`
}
