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

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

type ConversationRepo struct {
	pool *pgxpool.Pool
}

type ConversationRecord struct {
	ID        int64
	UserID    int64
	Persona   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRecord rows are ordered by a per-conversation seq assigned under
// the conversation row lock, so history reads never interleave.
type MessageRecord struct {
	ID             int64
	ConversationID int64
	Seq            int64
	Role           string
	Body           string
	CostTxnID      *string
	CreatedAt      time.Time
}

type AppendMessageParams struct {
	ConversationID int64
	Role           string
	Body           string
	CostTxnID      string
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// GetOrCreateActive returns the user's active conversation for the persona,
// creating one on first contact.
func (r *ConversationRepo) GetOrCreateActive(ctx context.Context, userID int64, persona string) (ConversationRecord, bool, error) {
	if r.pool == nil {
		return ConversationRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	persona = strings.TrimSpace(persona)
	if userID <= 0 || persona == "" {
		return ConversationRecord{}, false, fmt.Errorf("invalid conversation payload")
	}

	rec, err := scanConversation(r.pool.QueryRow(ctx, conversationSelect+`
WHERE user_id = $1 AND persona = $2 AND is_active
`, userID, persona))
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ConversationRecord{}, false, fmt.Errorf("find active conversation: %w", err)
	}

	rec, err = scanConversation(r.pool.QueryRow(ctx, `
INSERT INTO conversations (user_id, persona, is_active, created_at, updated_at)
VALUES ($1, $2, TRUE, NOW(), NOW())
ON CONFLICT (user_id, persona) WHERE is_active DO UPDATE SET updated_at = NOW()
RETURNING `+conversationColumns+`
`, userID, persona))
	if err != nil {
		return ConversationRecord{}, false, fmt.Errorf("create conversation: %w", err)
	}
	return rec, true, nil
}

func (r *ConversationRepo) FindByID(ctx context.Context, conversationID int64) (ConversationRecord, error) {
	if r.pool == nil {
		return ConversationRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if conversationID <= 0 {
		return ConversationRecord{}, fmt.Errorf("invalid conversation id")
	}

	rec, err := scanConversation(r.pool.QueryRow(ctx, conversationSelect+`WHERE id = $1`, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConversationRecord{}, ErrConversationNotFound
		}
		return ConversationRecord{}, fmt.Errorf("find conversation: %w", err)
	}
	return rec, nil
}

// AppendMessage assigns the next seq under the conversation row lock and
// inserts the message atomically.
func (r *ConversationRepo) AppendMessage(ctx context.Context, p AppendMessageParams) (MessageRecord, error) {
	if r.pool == nil {
		return MessageRecord{}, fmt.Errorf("postgres pool is nil")
	}
	p.Role = strings.TrimSpace(p.Role)
	p.Body = strings.TrimSpace(p.Body)
	if p.ConversationID <= 0 || p.Role == "" || p.Body == "" {
		return MessageRecord{}, fmt.Errorf("invalid message payload")
	}

	var out MessageRecord
	err := WithTx(ctx, r.pool, func(txCtx context.Context, tx pgx.Tx) error {
		if _, err := scanConversation(tx.QueryRow(txCtx, conversationSelect+`WHERE id = $1 FOR UPDATE`, p.ConversationID)); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrConversationNotFound
			}
			return fmt.Errorf("lock conversation row: %w", err)
		}

		var costTxnID *string
		if p.CostTxnID != "" {
			costTxnID = &p.CostTxnID
		}

		rec, err := scanMessage(tx.QueryRow(txCtx, `
INSERT INTO messages (conversation_id, seq, role, body, cost_txn_id, created_at)
VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = $1), $2, $3, $4, NOW())
RETURNING `+messageColumns+`
`, p.ConversationID, p.Role, p.Body, costTxnID))
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		if _, err := tx.Exec(txCtx, `
UPDATE conversations SET updated_at = NOW() WHERE id = $1
`, p.ConversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}

		out = rec
		return nil
	})
	if err != nil {
		return MessageRecord{}, err
	}
	return out, nil
}

// ListMessages returns messages in seq order starting after afterSeq,
// bounded by limit.
func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID, afterSeq int64, limit int) ([]MessageRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if conversationID <= 0 || afterSeq < 0 || limit <= 0 {
		return nil, fmt.Errorf("invalid list payload")
	}

	rows, err := r.pool.Query(ctx, messageSelect+`
WHERE conversation_id = $1 AND seq > $2
ORDER BY seq
LIMIT $3
`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

const conversationColumns = `id, user_id, persona, is_active, created_at, updated_at`

const conversationSelect = `
SELECT ` + conversationColumns + `
FROM conversations
`

const messageColumns = `id, conversation_id, seq, role, body, cost_txn_id, created_at`

const messageSelect = `
SELECT ` + messageColumns + `
FROM messages
`

func scanConversation(row pgx.Row) (ConversationRecord, error) {
	var rec ConversationRecord
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Persona,
		&rec.IsActive,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return ConversationRecord{}, err
	}
	return rec, nil
}

func scanMessage(row pgx.Row) (MessageRecord, error) {
	var rec MessageRecord
	if err := row.Scan(
		&rec.ID,
		&rec.ConversationID,
		&rec.Seq,
		&rec.Role,
		&rec.Body,
		&rec.CostTxnID,
		&rec.CreatedAt,
	); err != nil {
		return MessageRecord{}, err
	}
	return rec, nil
}
