package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepo struct {
	pool *pgxpool.Pool
}

type UserRecord struct {
	ID           int64
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	IsBlocked    bool
	BlockReason  string
	LastSeenAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TelegramProfile struct {
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (UserRecord, error) {
	if r.pool == nil {
		return UserRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if telegramID <= 0 {
		return UserRecord{}, fmt.Errorf("invalid telegram_id")
	}

	rec, err := scanUser(r.pool.QueryRow(ctx, `
SELECT id, telegram_id, username, first_name, last_name, language_code,
       is_blocked, block_reason, last_seen_at, created_at, updated_at
FROM users
WHERE telegram_id = $1
`, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("find user by telegram_id: %w", err)
	}

	return rec, nil
}

func (r *UserRepo) FindByID(ctx context.Context, userID int64) (UserRecord, error) {
	if r.pool == nil {
		return UserRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if userID <= 0 {
		return UserRecord{}, fmt.Errorf("invalid user id")
	}

	rec, err := scanUser(r.pool.QueryRow(ctx, `
SELECT id, telegram_id, username, first_name, last_name, language_code,
       is_blocked, block_reason, last_seen_at, created_at, updated_at
FROM users
WHERE id = $1
`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("find user by id: %w", err)
	}

	return rec, nil
}

// GetOrCreateByTelegramID upserts the user keyed by telegram_id, refreshing
// best-effort profile fields and last_seen_at on every call.
func (r *UserRepo) GetOrCreateByTelegramID(ctx context.Context, telegramID int64, profile TelegramProfile) (UserRecord, bool, error) {
	if r.pool == nil {
		return UserRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if telegramID <= 0 {
		return UserRecord{}, false, fmt.Errorf("invalid telegram_id")
	}

	var created bool
	rec, err := scanUserWithExtra(r.pool.QueryRow(ctx, `
INSERT INTO users (telegram_id, username, first_name, last_name, language_code, last_seen_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), NOW())
ON CONFLICT (telegram_id) DO UPDATE SET
	username = EXCLUDED.username,
	first_name = EXCLUDED.first_name,
	last_name = EXCLUDED.last_name,
	language_code = EXCLUDED.language_code,
	last_seen_at = NOW(),
	updated_at = NOW()
RETURNING id, telegram_id, username, first_name, last_name, language_code,
          is_blocked, block_reason, last_seen_at, created_at, updated_at,
          (xmax = 0) AS inserted
`, telegramID,
		strings.TrimSpace(profile.Username),
		strings.TrimSpace(profile.FirstName),
		strings.TrimSpace(profile.LastName),
		strings.TrimSpace(profile.LanguageCode),
	), &created)
	if err != nil {
		return UserRecord{}, false, fmt.Errorf("get or create user by telegram_id: %w", err)
	}

	return rec, created, nil
}

func scanUser(row pgx.Row) (UserRecord, error) {
	var rec UserRecord
	if err := row.Scan(
		&rec.ID,
		&rec.TelegramID,
		&rec.Username,
		&rec.FirstName,
		&rec.LastName,
		&rec.LanguageCode,
		&rec.IsBlocked,
		&rec.BlockReason,
		&rec.LastSeenAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return UserRecord{}, err
	}
	return rec, nil
}

func scanUserWithExtra(row pgx.Row, inserted *bool) (UserRecord, error) {
	var rec UserRecord
	if err := row.Scan(
		&rec.ID,
		&rec.TelegramID,
		&rec.Username,
		&rec.FirstName,
		&rec.LastName,
		&rec.LanguageCode,
		&rec.IsBlocked,
		&rec.BlockReason,
		&rec.LastSeenAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		inserted,
	); err != nil {
		return UserRecord{}, err
	}
	return rec, nil
}
