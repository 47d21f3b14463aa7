// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/videobot-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAccountNotFound возвращается, если счёт не найден.
var (
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStateNotFound возвращается, если активный диалог для счёта отсутствует.
	ErrStateNotFound = errors.New("conversation state not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при ошибках сериализации, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetOrCreateAccount возвращает счёт пользователя, создавая его при первом обращении.
// Приветственный бонус начисляется единожды, вместе с созданием счёта.
func (r *PostgresRepository) GetOrCreateAccount(ctx context.Context, id int64, username, firstName string, welcomeBonus int64) (*model.Account, bool, error) {
	var (
		acc     *model.Account
		created bool
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, username, first_name, balance) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			id, username, firstName, welcomeBonus,
		)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}

		created = cmdTag.RowsAffected() == 1

		if created {
			_, err = tx.Exec(ctx,
				`INSERT INTO ledger_entries (account_id, amount, kind, description)
				 VALUES ($1, $2, $3, $4)`,
				id, welcomeBonus, string(model.EntryKindWelcomeBonus), "Приветственный бонус",
			)
			if err != nil {
				return fmt.Errorf("insert welcome entry: %w", err)
			}
		}

		acc = &model.Account{}
		err = tx.QueryRow(ctx,
			`SELECT id, username, first_name, balance, blocked, created_at, last_activity
			 FROM accounts WHERE id = $1`,
			id,
		).Scan(&acc.ID, &acc.Username, &acc.FirstName, &acc.Balance, &acc.Blocked, &acc.CreatedAt, &acc.LastActivity)
		if err != nil {
			return fmt.Errorf("select account: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return acc, created, nil
}

// GetAccount возвращает счёт по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	acc := &model.Account{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, balance, blocked, created_at, last_activity
		 FROM accounts WHERE id = $1`,
		id,
	).Scan(&acc.ID, &acc.Username, &acc.FirstName, &acc.Balance, &acc.Blocked, &acc.CreatedAt, &acc.LastActivity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	return acc, nil
}

// TouchActivity обновляет отметку последней активности пользователя.
func (r *PostgresRepository) TouchActivity(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET last_activity = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

// Credit атомарно начисляет кредиты на счёт и создаёт запись журнала.
// Если указан externalPaymentID и запись с таким идентификатором уже существует,
// повторное начисление не выполняется: возвращается текущий баланс и applied=false.
func (r *PostgresRepository) Credit(ctx context.Context, accountID, amount int64, kind model.EntryKind, description string, externalPaymentID *string, orderID *int64) (int64, bool, error) {
	var (
		balance int64
		applied bool
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку счёта: проверка дубликата и изменение баланса
		// должны выполняться как одно целое.
		err = tx.QueryRow(ctx,
			`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
			accountID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}

		if externalPaymentID != nil {
			var exists bool
			err = tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE external_payment_id = $1)`,
				*externalPaymentID,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check payment id: %w", err)
			}
			if exists {
				applied = false
				return tx.Commit(ctx)
			}
		}

		err = tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance + $2 WHERE id = $1 RETURNING balance`,
			accountID, amount,
		).Scan(&balance)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (account_id, amount, kind, description, external_payment_id, order_id)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			accountID, amount, string(kind), description, externalPaymentID, orderID,
		)
		if err != nil {
			// Уникальный индекс по external_payment_id закрывает гонку двух
			// параллельных уведомлений об одном платеже.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				applied = false
				return nil
			}
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		applied = true
		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, false, err
	}

	if !applied {
		acc, err := r.GetAccount(ctx, accountID)
		if err != nil {
			return 0, false, err
		}
		return acc.Balance, false, nil
	}

	return balance, true, nil
}

// Debit атомарно списывает кредиты со счёта и создаёт запись журнала.
// Проверка достаточности средств выполняется под блокировкой строки счёта.
func (r *PostgresRepository) Debit(ctx context.Context, accountID, amount int64, kind model.EntryKind, description string, orderID *int64) (int64, error) {
	var balance int64

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
			accountID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("lock account: %w", err)
		}

		if amount > balance {
			return ErrInsufficientFunds
		}

		err = tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance - $2 WHERE id = $1 RETURNING balance`,
			accountID, amount,
		).Scan(&balance)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO ledger_entries (account_id, amount, kind, description, order_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			accountID, -amount, string(kind), description, orderID,
		)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// GetBalance возвращает доступный баланс счёта и сумму всех списаний.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID int64) (int64, int64, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}

	var withdrawn int64
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(-SUM(amount), 0)
		 FROM ledger_entries
		 WHERE account_id = $1 AND amount < 0`,
		accountID,
	).Scan(&withdrawn)
	if err != nil {
		return 0, 0, fmt.Errorf("sum debits: %w", err)
	}

	return acc.Balance, withdrawn, nil
}

// GetLedgerEntriesByOrder возвращает записи журнала, связанные с заказом.
func (r *PostgresRepository) GetLedgerEntriesByOrder(ctx context.Context, orderID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, amount, kind, description, external_payment_id, order_id, created_at
		 FROM ledger_entries
		 WHERE order_id = $1
		 ORDER BY created_at`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &kind, &e.Description, &e.ExternalPaymentID, &e.OrderID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// rateVerdict описывает решение по одному действию в фиксированном окне.
type rateVerdict struct {
	allowed bool
	count   int
	reset   bool
}

// decideRate вычисляет решение по счётчику фиксированного окна. Истёкшее окно
// начинается заново со счётчиком 1. Отказ не изменяет счётчик: повтор
// запрещённого действия не расходует лимит.
func decideRate(count int, windowStart, now time.Time, limit int, window time.Duration) rateVerdict {
	if now.Sub(windowStart) > window {
		return rateVerdict{allowed: true, count: 1, reset: true}
	}
	if count >= limit {
		return rateVerdict{allowed: false, count: count}
	}
	return rateVerdict{allowed: true, count: count + 1}
}

// AllowAction проверяет и учитывает действие пользователя в фиксированном окне.
// Отказ не расходует лимит: повтор запрещённого действия не удваивает счётчик.
func (r *PostgresRepository) AllowAction(ctx context.Context, accountID int64, action model.ActionType, limit int, window time.Duration) (bool, error) {
	var allowed bool

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var (
			count       int
			windowStart time.Time
		)
		err = tx.QueryRow(ctx,
			`SELECT action_count, window_start FROM rate_limits
			 WHERE account_id = $1 AND action_type = $2 FOR UPDATE`,
			accountID, string(action),
		).Scan(&count, &windowStart)

		now := time.Now()

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx,
				`INSERT INTO rate_limits (account_id, action_type, action_count, window_start)
				 VALUES ($1, $2, 1, $3)
				 ON CONFLICT (account_id, action_type)
				 DO UPDATE SET action_count = 1, window_start = $3`,
				accountID, string(action), now,
			)
			if err != nil {
				return fmt.Errorf("insert rate window: %w", err)
			}
			allowed = true

		case err != nil:
			return fmt.Errorf("select rate window: %w", err)

		default:
			v := decideRate(count, windowStart, now, limit, window)
			allowed = v.allowed

			if !v.allowed {
				break
			}

			if v.reset {
				_, err = tx.Exec(ctx,
					`UPDATE rate_limits SET action_count = $3, window_start = $4
					 WHERE account_id = $1 AND action_type = $2`,
					accountID, string(action), v.count, now,
				)
				if err != nil {
					return fmt.Errorf("reset rate window: %w", err)
				}
			} else {
				_, err = tx.Exec(ctx,
					`UPDATE rate_limits SET action_count = $3
					 WHERE account_id = $1 AND action_type = $2`,
					accountID, string(action), v.count,
				)
				if err != nil {
					return fmt.Errorf("increment rate window: %w", err)
				}
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return false, err
	}

	return allowed, nil
}

// LogError сохраняет ошибку обработки внешнего события для последующего разбора.
func (r *PostgresRepository) LogError(ctx context.Context, accountID, orderID *int64, source, errorType, message string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO error_logs (account_id, order_id, source, error_type, message, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		accountID, orderID, source, errorType, message, payload,
	)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}
	return nil
}
