package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
)

// Notifier pushes purchase confirmations to the buyer's telegram chat. All
// sends are best effort; billing state never depends on delivery.
type Notifier struct {
	api    *tgbotapi.BotAPI
	lookup telegramIDLookup
	logger *zap.Logger
}

// telegramIDLookup resolves an internal user id back to the telegram chat.
type telegramIDLookup interface {
	FindByID(ctx context.Context, userID int64) (telegramID int64, err error)
}

type userRepoLookup struct {
	repo *pgrepo.UserRepo
}

func NewNotifier(token string, users *pgrepo.UserRepo, logger *zap.Logger) (*Notifier, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot api: %w", err)
	}

	return &Notifier{
		api:    api,
		lookup: userRepoLookup{repo: users},
		logger: logger,
	}, nil
}

func (n *Notifier) PurchaseCredited(ctx context.Context, userID, coins, balanceAfter int64) {
	if n == nil || n.api == nil || n.lookup == nil {
		return
	}

	chatID, err := n.lookup.FindByID(ctx, userID)
	if err != nil {
		n.logger.Debug("purchase notification skipped, chat lookup failed",
			zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(
		"Your purchase is complete: %d coins credited. Balance: %d.", coins, balanceAfter))
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Warn("purchase notification send failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (l userRepoLookup) FindByID(ctx context.Context, userID int64) (int64, error) {
	if l.repo == nil {
		return 0, fmt.Errorf("user repo is nil")
	}
	rec, err := l.repo.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rec.TelegramID, nil
}
