package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/models"
	"github.com/shopspring/decimal"
)

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

const orderColumns = `o.id, o.user_id, o.order_number, o.status, o.total_amount, o.created_at, o.updated_at, u.username`

func scanOrder(row interface{ Scan(...any) error }, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Username,
	)
}

// InsertOrder creates a Pending order with a fresh order number.
func InsertOrder(ctx context.Context, db DBTX, userID int64, total decimal.Decimal) (*models.Order, error) {
	order := &models.Order{
		UserID:      userID,
		OrderNumber: generateOrderNumber(),
		Status:      models.OrderStatusPending,
		TotalAmount: total,
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, total_amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		userID, order.OrderNumber, order.Status, total).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

func InsertOrderLine(ctx context.Context, db DBTX, orderID, gameID int64, quantity int, unitPrice decimal.Decimal) (*models.OrderLine, error) {
	line := &models.OrderLine{
		OrderID:   orderID,
		GameID:    gameID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO order_lines (order_id, game_id, quantity, unit_price, subtotal, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id, created_at`,
		orderID, gameID, quantity, unitPrice, line.Subtotal).Scan(&line.ID, &line.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create order line: %w", err)
	}

	return line, nil
}

func InsertPayment(ctx context.Context, db DBTX, orderID int64, status, method string) (*models.Payment, error) {
	payment := &models.Payment{OrderID: orderID, Status: status, Method: method}

	err := db.QueryRowContext(ctx,
		`INSERT INTO payments (order_id, paid_at, status, method)
		 VALUES ($1, NOW(), $2, $3)
		 RETURNING id, paid_at`,
		orderID, status, method).Scan(&payment.ID, &payment.PaidAt)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	return payment, nil
}

func SetOrderStatus(ctx context.Context, db DBTX, orderID int64, status string) error {
	if !models.ValidOrderStatus(status) {
		return fmt.Errorf("%w: unknown status %q", database.ErrInvalidTransition, status)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}

	return nil
}

// GetOrder loads an order with its lines and payment. A non-zero ownerID
// restricts the lookup to that user's orders; someone else's order is
// reported as not found.
func GetOrder(ctx context.Context, db DBTX, id, ownerID int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE o.id = $1
		  AND ($2::bigint = 0 OR o.user_id = $2)`

	err := scanOrder(db.QueryRowContext(ctx, query, id, ownerID), order)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []models.Order{*order}
	if err := attachOrderDetails(ctx, db, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

// attachOrderDetails fills lines and payment for a batch of orders with two
// queries regardless of the batch size.
func attachOrderDetails(ctx context.Context, db DBTX, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Lines = []models.OrderLine{}
	}

	rows, err := db.QueryContext(ctx,
		`SELECT l.id, l.order_id, l.game_id, l.quantity, l.unit_price, l.subtotal, l.created_at,
		        g.title, g.genre, g.platform
		 FROM order_lines l
		 JOIN games g ON g.id = l.game_id
		 WHERE l.order_id = ANY($1)
		 ORDER BY l.order_id, l.game_id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line models.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.GameID,
			&line.Quantity,
			&line.UnitPrice,
			&line.Subtotal,
			&line.CreatedAt,
			&line.Title,
			&line.Genre,
			&line.Platform,
		)
		if err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		i := index[line.OrderID]
		orders[i].Lines = append(orders[i].Lines, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	payRows, err := db.QueryContext(ctx,
		`SELECT id, order_id, paid_at, status, method
		 FROM payments
		 WHERE order_id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get payments: %w", err)
	}
	defer payRows.Close()

	for payRows.Next() {
		payment := &models.Payment{}
		if err := payRows.Scan(&payment.ID, &payment.OrderID, &payment.PaidAt, &payment.Status, &payment.Method); err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		orders[index[payment.OrderID]].Payment = payment
	}

	return payRows.Err()
}

// ListOrdersCursor pages through one user's orders, newest first, using a
// (created_at, id) keyset.
func ListOrdersCursor(ctx context.Context, db DBTX, userID int64, cursor string, limit int) (*CursorPage, error) {
	if limit < 1 || limit > MaxPageSize {
		limit = DefaultPageSize
	}

	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	// The first page has no lower bound, so it never depends on the
	// application clock agreeing with the database's NOW().
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE o.user_id = $1`
	args := []any{userID}
	if !cursorData.IsZero() {
		query += `
		  AND (o.created_at, o.id) < ($2, $3)`
		args = append(args, cursorData.CreatedAt, cursorData.ID)
	}
	query += fmt.Sprintf(`
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	if err := attachOrderDetails(ctx, db, orders); err != nil {
		return nil, err
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListAllOrders is the admin view over every user's orders, optionally
// filtered by status.
func ListAllOrders(ctx context.Context, db DBTX, status string, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1::text = '' OR status = $1)`, status).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + orderColumns + `
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE ($1::text = '' OR o.status = $1)
		ORDER BY o.created_at DESC, o.id DESC
		LIMIT $2 OFFSET $3`

	rows, err := db.QueryContext(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list all orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := attachOrderDetails(ctx, db, orders); err != nil {
		return nil, err
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

// UpdateOrderStatus moves an order to a new status. Cancelling a Completed
// order puts its quantities back into inventory in the same transaction.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, status string) (*models.Order, error) {
	if !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", database.ErrInvalidTransition, status)
	}

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if current == status {
			return nil
		}
		if !models.CanTransition(current, status) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, current, status)
		}

		if current == models.OrderStatusCompleted && status == models.OrderStatusCancelled {
			if err := restockOrder(ctx, tx, orderID); err != nil {
				return err
			}
		}

		return SetOrderStatus(ctx, tx, orderID, status)
	})
	if err != nil {
		return nil, err
	}

	return GetOrder(ctx, db, orderID, 0)
}

func restockOrder(ctx context.Context, tx *sql.Tx, orderID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT game_id, quantity FROM order_lines WHERE order_id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("get order lines: %w", err)
	}

	type restock struct {
		gameID   int64
		quantity int
	}
	var lines []restock
	for rows.Next() {
		var r restock
		if err := rows.Scan(&r.gameID, &r.quantity); err != nil {
			rows.Close()
			return fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	// Same lock order as checkout.
	sort.Slice(lines, func(i, j int) bool { return lines[i].gameID < lines[j].gameID })

	for _, line := range lines {
		if _, err := LockInventory(ctx, tx, line.gameID); err != nil {
			return err
		}
		if err := IncrementStock(ctx, tx, line.gameID, line.quantity); err != nil {
			return fmt.Errorf("restock game %d: %w", line.gameID, err)
		}
	}

	return nil
}
