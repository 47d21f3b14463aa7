package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/videobot-system/internal/model"
)

// DashboardStats содержит сводные показатели для панели администратора.
type DashboardStats struct {
	TotalUsers       int64 `json:"total_users"`
	ActiveUsers24h   int64 `json:"active_users_24h"`
	TotalOrders      int64 `json:"total_orders"`
	ProcessingOrders int64 `json:"processing_orders"`
	TotalRevenue     int64 `json:"total_revenue"`
	CreditsSpent     int64 `json:"credits_spent"`
}

// OrderTypeStat содержит статистику заказов по типу генерации.
type OrderTypeStat struct {
	OrderType string `json:"order_type"`
	Count     int64  `json:"count"`
	TotalCost int64  `json:"total_cost"`
}

// DailyRevenue содержит выручку за один день.
type DailyRevenue struct {
	Date             string `json:"date"`
	Revenue          int64  `json:"revenue"`
	TransactionCount int64  `json:"transaction_count"`
}

// Dashboard содержит полный набор данных панели администратора.
type Dashboard struct {
	Stats        DashboardStats  `json:"stats"`
	RecentUsers  []model.Account `json:"recent_users"`
	RecentOrders []model.Order   `json:"recent_orders"`
	OrderStats   []OrderTypeStat `json:"order_stats"`
	DailyRevenue []DailyRevenue  `json:"daily_revenue"`
}

// GetDashboard собирает сводные данные для панели администратора.
func (r *PostgresRepository) GetDashboard(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{}

	err := r.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM accounts),
		   (SELECT COUNT(*) FROM accounts WHERE last_activity > $1),
		   (SELECT COUNT(*) FROM orders),
		   (SELECT COUNT(*) FROM orders WHERE status = $2),
		   (SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE kind = $3 AND amount > 0),
		   (SELECT COALESCE(SUM(-amount), 0) FROM ledger_entries WHERE kind = $4)`,
		time.Now().Add(-24*time.Hour),
		string(model.OrderStatusProcessing),
		string(model.EntryKindPurchase),
		string(model.EntryKindDebitHold),
	).Scan(&d.Stats.TotalUsers, &d.Stats.ActiveUsers24h, &d.Stats.TotalOrders,
		&d.Stats.ProcessingOrders, &d.Stats.TotalRevenue, &d.Stats.CreditsSpent)
	if err != nil {
		return nil, fmt.Errorf("select stats: %w", err)
	}

	userRows, err := r.pool.Query(ctx,
		`SELECT id, username, first_name, balance, blocked, created_at, last_activity
		 FROM accounts
		 ORDER BY created_at DESC
		 LIMIT 10`,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent users: %w", err)
	}
	defer userRows.Close()

	for userRows.Next() {
		var a model.Account
		if err := userRows.Scan(&a.ID, &a.Username, &a.FirstName, &a.Balance, &a.Blocked, &a.CreatedAt, &a.LastActivity); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		d.RecentUsers = append(d.RecentUsers, a)
	}
	if err := userRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	orderRows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 ORDER BY created_at DESC
		 LIMIT 20`,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent orders: %w", err)
	}
	defer orderRows.Close()

	for orderRows.Next() {
		o, err := scanOrder(orderRows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		d.RecentOrders = append(d.RecentOrders, *o)
	}
	if err := orderRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	statRows, err := r.pool.Query(ctx,
		`SELECT order_type, COUNT(*), COALESCE(SUM(cost), 0)
		 FROM orders
		 GROUP BY order_type`,
	)
	if err != nil {
		return nil, fmt.Errorf("select order stats: %w", err)
	}
	defer statRows.Close()

	for statRows.Next() {
		var s OrderTypeStat
		if err := statRows.Scan(&s.OrderType, &s.Count, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan order stat: %w", err)
		}
		d.OrderStats = append(d.OrderStats, s)
	}
	if err := statRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	revenueRows, err := r.pool.Query(ctx,
		`SELECT DATE(created_at)::text, COALESCE(SUM(amount), 0), COUNT(*)
		 FROM ledger_entries
		 WHERE kind = $1 AND amount > 0 AND created_at > $2
		 GROUP BY DATE(created_at)
		 ORDER BY DATE(created_at) DESC
		 LIMIT 7`,
		string(model.EntryKindPurchase),
		time.Now().Add(-7*24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("select daily revenue: %w", err)
	}
	defer revenueRows.Close()

	for revenueRows.Next() {
		var dr DailyRevenue
		if err := revenueRows.Scan(&dr.Date, &dr.Revenue, &dr.TransactionCount); err != nil {
			return nil, fmt.Errorf("scan daily revenue: %w", err)
		}
		d.DailyRevenue = append(d.DailyRevenue, dr)
	}
	if err := revenueRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return d, nil
}
