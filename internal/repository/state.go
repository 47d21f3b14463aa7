package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/videobot-system/internal/model"
)

// GetConversationState возвращает активный диалог пользователя.
func (r *PostgresRepository) GetConversationState(ctx context.Context, accountID int64) (*model.ConversationState, error) {
	var (
		st        model.ConversationState
		step      string
		orderType string
		quality   string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT account_id, step, order_type, prompt, image_ref, duration, quality, scenes, updated_at
		 FROM conversation_states WHERE account_id = $1`,
		accountID,
	).Scan(&st.AccountID, &step, &orderType, &st.Prompt, &st.ImageRef, &st.Duration, &quality, &st.Scenes, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("get conversation state: %w", err)
	}

	st.Step = model.Step(step)
	st.OrderType = model.OrderType(orderType)
	st.Quality = model.Quality(quality)
	return &st, nil
}

// SetConversationState сохраняет диалог целиком, замещая предыдущий.
// Два параллельных диалога для одного счёта невозможны: побеждает
// последняя запись.
func (r *PostgresRepository) SetConversationState(ctx context.Context, st *model.ConversationState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_states (account_id, step, order_type, prompt, image_ref, duration, quality, scenes, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (account_id) DO UPDATE SET
		   step = EXCLUDED.step,
		   order_type = EXCLUDED.order_type,
		   prompt = EXCLUDED.prompt,
		   image_ref = EXCLUDED.image_ref,
		   duration = EXCLUDED.duration,
		   quality = EXCLUDED.quality,
		   scenes = EXCLUDED.scenes,
		   updated_at = now()`,
		st.AccountID, string(st.Step), string(st.OrderType), st.Prompt, st.ImageRef,
		st.Duration, string(st.Quality), st.Scenes,
	)
	if err != nil {
		return fmt.Errorf("set conversation state: %w", err)
	}
	return nil
}

// ClearConversationState удаляет активный диалог пользователя.
func (r *PostgresRepository) ClearConversationState(ctx context.Context, accountID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_states WHERE account_id = $1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	return nil
}
