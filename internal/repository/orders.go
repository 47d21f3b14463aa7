package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/videobot-system/internal/model"
)

const orderColumns = `id, account_id, order_type, prompt, image_ref, duration, quality, scenes,
	cost, status, external_job_id, result_url, result_delivered, retry_count, error_message,
	created_at, completed_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o         model.Order
		orderType string
		quality   string
		status    string
	)
	err := row.Scan(&o.ID, &o.AccountID, &orderType, &o.Prompt, &o.ImageRef, &o.Duration, &quality,
		&o.Scenes, &o.Cost, &status, &o.ExternalJobID, &o.ResultRef, &o.ResultDelivered,
		&o.RetryCount, &o.ErrorMessage, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}
	o.Type = model.OrderType(orderType)
	o.Quality = model.Quality(quality)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateOrderWithHold атомарно списывает стоимость заказа и создаёт заказ
// в статусе processing. При нехватке средств заказ не создаётся и баланс
// не изменяется.
func (r *PostgresRepository) CreateOrderWithHold(ctx context.Context, o *model.Order) (int64, error) {
	var orderID int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx,
			`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
			o.AccountID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}

		if o.Cost > balance {
			return ErrInsufficientFunds
		}

		_, err = tx.Exec(ctx,
			`UPDATE accounts SET balance = balance - $2 WHERE id = $1`,
			o.AccountID, o.Cost,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO orders (account_id, order_type, prompt, image_ref, duration, quality, scenes, cost, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			o.AccountID, string(o.Type), o.Prompt, o.ImageRef, o.Duration, string(o.Quality), o.Scenes,
			o.Cost, string(model.OrderStatusProcessing),
		).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (account_id, amount, kind, description, order_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			o.AccountID, -o.Cost, string(model.EntryKindDebitHold),
			fmt.Sprintf("Заказ #%d: %s", orderID, o.Type), orderID,
		)
		if err != nil {
			return fmt.Errorf("insert hold entry: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}

	return orderID, nil
}

// SetOrderJob сохраняет идентификатор задачи во внешней системе генерации.
func (r *PostgresRepository) SetOrderJob(ctx context.Context, orderID int64, jobID string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET external_job_id = $2 WHERE id = $1`,
		orderID, jobID,
	)
	if err != nil {
		return fmt.Errorf("set order job: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		orderID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// GetOrderByJobID возвращает заказ по идентификатору задачи во внешней системе.
func (r *PostgresRepository) GetOrderByJobID(ctx context.Context, jobID string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE external_job_id = $1`,
		jobID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by job id: %w", err)
	}
	return o, nil
}

// GetProcessingOrders возвращает заказы в обработке, для которых известна
// задача во внешней системе генерации.
func (r *PostgresRepository) GetProcessingOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND external_job_id IS NOT NULL
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.OrderStatusProcessing), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select processing orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CompleteOrder переводит заказ в статус completed и сохраняет ссылку на результат.
// Переход выполняется условно: если заказ уже в конечном статусе, обновление
// не применяется и возвращается applied=false. Флаг result_delivered взводится
// тем же обновлением, поэтому уведомление о результате отправляется не более
// одного раза на заказ.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID int64, resultRef string) (bool, *model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`UPDATE orders
		 SET status = $2, result_url = $3, result_delivered = TRUE, completed_at = now()
		 WHERE id = $1 AND status = $4
		 RETURNING `+orderColumns,
		orderID, string(model.OrderStatusCompleted), resultRef, string(model.OrderStatusProcessing),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("complete order: %w", err)
	}

	return true, o, nil
}

// FailOrderWithRefund переводит заказ в статус failed и возвращает его стоимость
// на счёт одной транзакцией. Если заказ уже в конечном статусе, ни статус,
// ни баланс не изменяются.
func (r *PostgresRepository) FailOrderWithRefund(ctx context.Context, orderID int64, errorMessage string) (bool, *model.Order, error) {
	var (
		applied bool
		o       *model.Order
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		applied = false
		o = nil

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		o, err = scanOrder(tx.QueryRow(ctx,
			`UPDATE orders
			 SET status = $2, error_message = $3, completed_at = now()
			 WHERE id = $1 AND status = $4
			 RETURNING `+orderColumns,
			orderID, string(model.OrderStatusFailed), errorMessage, string(model.OrderStatusProcessing),
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("fail order: %w", err)
		}

		var dummy int
		err = tx.QueryRow(ctx,
			`SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`,
			o.AccountID,
		).Scan(&dummy)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE id = $1`,
			o.AccountID, o.Cost,
		)
		if err != nil {
			return fmt.Errorf("refund balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (account_id, amount, kind, description, order_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			o.AccountID, o.Cost, string(model.EntryKindRefund),
			fmt.Sprintf("Возврат за заказ #%d", orderID), orderID,
		)
		if err != nil {
			return fmt.Errorf("insert refund entry: %w", err)
		}

		applied = true
		return tx.Commit(ctx)
	})
	if err != nil {
		return false, nil, err
	}

	return applied, o, nil
}

// IncrementOrderRetry увеличивает счётчик опросов заказа, пока он в обработке.
func (r *PostgresRepository) IncrementOrderRetry(ctx context.Context, orderID int64) (int, error) {
	var retryCount int
	err := r.pool.QueryRow(ctx,
		`UPDATE orders SET retry_count = retry_count + 1
		 WHERE id = $1 AND status = $2
		 RETURNING retry_count`,
		orderID, string(model.OrderStatusProcessing),
	).Scan(&retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOrderNotFound
		}
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return retryCount, nil
}
