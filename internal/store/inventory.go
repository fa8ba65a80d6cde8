package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/models"
)

// LockInventory takes the row lock on a game's inventory record. A game
// without an inventory row is reported as zero stock.
func LockInventory(ctx context.Context, tx *sql.Tx, gameID int64) (*models.InventoryRecord, error) {
	record := &models.InventoryRecord{GameID: gameID}

	err := tx.QueryRowContext(ctx,
		`SELECT stock_quantity, version, updated_at
		 FROM inventory
		 WHERE game_id = $1
		 FOR UPDATE`,
		gameID).Scan(&record.StockQuantity, &record.Version, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return record, nil
		}
		return nil, fmt.Errorf("lock inventory %d: %w", gameID, err)
	}

	return record, nil
}

func DecrementStock(ctx context.Context, db DBTX, gameID int64, quantity int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE inventory
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE game_id = $2
		   AND stock_quantity >= $1`,
		quantity, gameID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func IncrementStock(ctx context.Context, db DBTX, gameID int64, quantity int) error {
	result, err := db.ExecContext(ctx,
		`UPDATE inventory
		 SET stock_quantity = stock_quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE game_id = $2`,
		quantity, gameID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrGameNotFound
	}

	return nil
}

// SetStock overwrites the stock quantity unconditionally (admin restock).
func SetStock(ctx context.Context, db DBTX, gameID int64, stock int) (*models.InventoryRecord, error) {
	if stock < 0 {
		return nil, fmt.Errorf("set stock: negative quantity %d", stock)
	}

	record := &models.InventoryRecord{GameID: gameID}
	err := db.QueryRowContext(ctx,
		`UPDATE inventory
		 SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		 WHERE game_id = $2
		 RETURNING stock_quantity, version, updated_at`,
		stock, gameID).Scan(&record.StockQuantity, &record.Version, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrGameNotFound
		}
		return nil, fmt.Errorf("set stock: %w", err)
	}

	return record, nil
}

// UpdateStockOptimistic overwrites the stock only if the row is still at the
// caller's version.
func UpdateStockOptimistic(ctx context.Context, db DBTX, gameID int64, newStock int, version int) (*models.InventoryRecord, error) {
	if newStock < 0 {
		return nil, fmt.Errorf("update stock: negative quantity %d", newStock)
	}

	record := &models.InventoryRecord{GameID: gameID}
	err := db.QueryRowContext(ctx,
		`UPDATE inventory
		 SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		 WHERE game_id = $2 AND version = $3
		 RETURNING stock_quantity, version, updated_at`,
		newStock, gameID, version).Scan(&record.StockQuantity, &record.Version, &record.UpdatedAt)
	if err == nil {
		return record, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("update stock: %w", err)
	}

	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM inventory WHERE game_id = $1)`, gameID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check inventory exists: %w", err)
	}
	if !exists {
		return nil, database.ErrGameNotFound
	}

	return nil, database.ErrOptimisticLockFailed
}

func GetInventory(ctx context.Context, db DBTX, gameID int64) (*models.InventoryRecord, error) {
	record := &models.InventoryRecord{}

	err := db.QueryRowContext(ctx,
		`SELECT i.game_id, i.stock_quantity, i.version, i.updated_at, g.title, g.price, g.genre, g.platform
		 FROM inventory i
		 JOIN games g ON g.id = i.game_id
		 WHERE i.game_id = $1`,
		gameID).Scan(
		&record.GameID,
		&record.StockQuantity,
		&record.Version,
		&record.UpdatedAt,
		&record.Title,
		&record.Price,
		&record.Genre,
		&record.Platform,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrGameNotFound
		}
		return nil, fmt.Errorf("get inventory: %w", err)
	}

	return record, nil
}

// ListInventory returns every inventory row, lowest stock first.
func ListInventory(ctx context.Context, db DBTX) ([]models.InventoryRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT i.game_id, i.stock_quantity, i.version, i.updated_at, g.title, g.price, g.genre, g.platform
		 FROM inventory i
		 JOIN games g ON g.id = i.game_id
		 ORDER BY i.stock_quantity ASC, i.game_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	records := []models.InventoryRecord{}
	for rows.Next() {
		var record models.InventoryRecord
		err := rows.Scan(
			&record.GameID,
			&record.StockQuantity,
			&record.Version,
			&record.UpdatedAt,
			&record.Title,
			&record.Price,
			&record.Genre,
			&record.Platform,
		)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return records, nil
}
