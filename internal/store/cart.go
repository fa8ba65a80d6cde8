package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/models"
	"github.com/shopspring/decimal"
)

// AddToCart adds quantity to the user's line for a game, creating the line
// if it does not exist yet. A line never grows past models.MaxCartQuantity;
// an add that would is rejected and leaves the line untouched.
func AddToCart(ctx context.Context, db DBTX, userID, gameID int64, quantity int) (*models.CartLine, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("add to cart: quantity must be positive, got %d", quantity)
	}
	if quantity > models.MaxCartQuantity {
		return nil, database.ErrCartQuantityLimit
	}

	line := &models.CartLine{UserID: userID, GameID: gameID}
	err := db.QueryRowContext(ctx,
		`INSERT INTO cart_items (user_id, game_id, quantity, added_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, game_id)
		 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		 WHERE cart_items.quantity + EXCLUDED.quantity <= $4
		 RETURNING quantity, added_at`,
		userID, gameID, quantity, models.MaxCartQuantity).Scan(&line.Quantity, &line.AddedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			// The conflict update was skipped by its WHERE clause.
			return nil, database.ErrCartQuantityLimit
		}
		if database.IsForeignKeyViolation(err) {
			return nil, database.ErrGameNotFound
		}
		return nil, fmt.Errorf("add to cart: %w", err)
	}

	return line, nil
}

func UpdateCartQuantity(ctx context.Context, db DBTX, userID, gameID int64, quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("update cart: quantity must be positive, got %d", quantity)
	}
	if quantity > models.MaxCartQuantity {
		return database.ErrCartQuantityLimit
	}

	result, err := db.ExecContext(ctx,
		`UPDATE cart_items SET quantity = $1 WHERE user_id = $2 AND game_id = $3`,
		quantity, userID, gameID)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartItemNotFound
	}

	return nil
}

func RemoveFromCart(ctx context.Context, db DBTX, userID, gameID int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND game_id = $2`,
		userID, gameID)
	if err != nil {
		return fmt.Errorf("remove from cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartItemNotFound
	}

	return nil
}

// ClearCart deletes every line of the user's cart and reports how many
// lines were removed.
func ClearCart(ctx context.Context, db DBTX, userID int64) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return n, nil
}

// ClearCartLines deletes the given games from the user's cart. Checkout
// uses it so a line added while the checkout holds its locks stays in the
// cart instead of being dropped unpaid.
func ClearCartLines(ctx context.Context, tx *sql.Tx, userID int64, gameIDs []int64) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND game_id = ANY($2)`,
		userID, pq.Array(gameIDs))
	if err != nil {
		return 0, fmt.Errorf("clear cart lines: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return n, nil
}

// GetCart returns the cart priced at current catalog prices. These prices
// are informational; checkout reprices under lock.
func GetCart(ctx context.Context, db DBTX, userID int64) (*models.Cart, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT c.game_id, c.quantity, c.added_at, g.title, g.price
		 FROM cart_items c
		 JOIN games g ON g.id = c.game_id
		 WHERE c.user_id = $1
		 ORDER BY c.added_at, c.game_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	defer rows.Close()

	cart := &models.Cart{UserID: userID, Items: []models.CartLine{}, Total: decimal.Zero}
	for rows.Next() {
		line := models.CartLine{UserID: userID}
		if err := rows.Scan(&line.GameID, &line.Quantity, &line.AddedAt, &line.Title, &line.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		line.LineTotal = line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		cart.Total = cart.Total.Add(line.LineTotal)
		cart.Items = append(cart.Items, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return cart, nil
}

// LockCartLines row-locks the user's cart in ascending game_id order and
// returns the locked lines in that order. A second checkout for the same
// user blocks here until the first one finishes.
func LockCartLines(ctx context.Context, tx *sql.Tx, userID int64) ([]models.CartLine, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT game_id, quantity, added_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY game_id
		 FOR UPDATE`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("lock cart: %w", err)
	}
	defer rows.Close()

	var lines []models.CartLine
	for rows.Next() {
		line := models.CartLine{UserID: userID}
		if err := rows.Scan(&line.GameID, &line.Quantity, &line.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}
