package users

import (
	"context"
	"errors"
	"fmt"

	pgrepo "github.com/hsdarestani/HamAan/internal/repo/postgres"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrUserNotFound = errors.New("user not found")
	ErrUserBlocked  = errors.New("user is blocked")
)

type UserStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (pgrepo.UserRecord, error)
	GetOrCreateByTelegramID(ctx context.Context, telegramID int64, profile pgrepo.TelegramProfile) (pgrepo.UserRecord, bool, error)
}

type WalletEnsurer interface {
	Ensure(ctx context.Context, userID int64) (pgrepo.WalletRecord, error)
}

type Service struct {
	users   UserStore
	wallets WalletEnsurer
}

type RegisterInput struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

type RegisterResult struct {
	User    pgrepo.UserRecord
	Created bool
}

func NewService(users UserStore, wallets WalletEnsurer) *Service {
	return &Service{users: users, wallets: wallets}
}

// Register upserts the user by telegram id and provisions their wallet, so
// every registered user can receive coins immediately.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	if s.users == nil {
		return RegisterResult{}, fmt.Errorf("user store is nil")
	}
	if in.TelegramID <= 0 {
		return RegisterResult{}, ErrValidation
	}

	rec, created, err := s.users.GetOrCreateByTelegramID(ctx, in.TelegramID, pgrepo.TelegramProfile{
		Username:     in.Username,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		LanguageCode: in.LanguageCode,
	})
	if err != nil {
		return RegisterResult{}, err
	}
	if rec.IsBlocked {
		return RegisterResult{}, ErrUserBlocked
	}

	if s.wallets != nil {
		if _, err := s.wallets.Ensure(ctx, rec.ID); err != nil {
			return RegisterResult{}, err
		}
	}

	return RegisterResult{User: rec, Created: created}, nil
}

// Resolve maps a telegram id onto the internal user id, rejecting blocked
// accounts.
func (s *Service) Resolve(ctx context.Context, telegramID int64) (pgrepo.UserRecord, error) {
	if s.users == nil {
		return pgrepo.UserRecord{}, fmt.Errorf("user store is nil")
	}
	if telegramID <= 0 {
		return pgrepo.UserRecord{}, ErrValidation
	}

	rec, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrUserNotFound) {
			return pgrepo.UserRecord{}, ErrUserNotFound
		}
		return pgrepo.UserRecord{}, err
	}
	if rec.IsBlocked {
		return pgrepo.UserRecord{}, ErrUserBlocked
	}
	return rec, nil
}
