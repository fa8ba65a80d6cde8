package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/models"
	"github.com/shopspring/decimal"
)

type NewGame struct {
	Title        string
	Genre        string
	Platform     string
	Description  string
	ImageURL     string
	Price        decimal.Decimal
	InitialStock int
}

const gameColumns = `g.id, g.title, g.genre, g.platform, g.description, g.image_url, g.price,
		COALESCE(i.stock_quantity, 0), g.created_at, g.updated_at`

func scanGame(row interface{ Scan(...any) error }, game *models.Game) error {
	return row.Scan(
		&game.ID,
		&game.Title,
		&game.Genre,
		&game.Platform,
		&game.Description,
		&game.ImageURL,
		&game.Price,
		&game.StockQuantity,
		&game.CreatedAt,
		&game.UpdatedAt,
	)
}

// CreateGame inserts the catalog row and its inventory row together.
func CreateGame(ctx context.Context, db *sql.DB, in NewGame) (*models.Game, error) {
	if in.Price.IsNegative() {
		return nil, fmt.Errorf("create game: negative price %s", in.Price)
	}
	if in.InitialStock < 0 {
		return nil, fmt.Errorf("create game: negative stock %d", in.InitialStock)
	}

	game := &models.Game{}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO games (title, genre, platform, description, image_url, price, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
			 RETURNING id, title, genre, platform, description, image_url, price, created_at, updated_at`,
			in.Title, in.Genre, in.Platform, in.Description, in.ImageURL, in.Price).Scan(
			&game.ID,
			&game.Title,
			&game.Genre,
			&game.Platform,
			&game.Description,
			&game.ImageURL,
			&game.Price,
			&game.CreatedAt,
			&game.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create game: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO inventory (game_id, stock_quantity, version, updated_at)
			 VALUES ($1, $2, 1, NOW())`,
			game.ID, in.InitialStock)
		if err != nil {
			return fmt.Errorf("create inventory: %w", err)
		}

		game.StockQuantity = in.InitialStock
		return nil
	})
	if err != nil {
		return nil, err
	}

	return game, nil
}

func GetGame(ctx context.Context, db DBTX, id int64) (*models.Game, error) {
	game := &models.Game{}

	query := `
		SELECT ` + gameColumns + `
		FROM games g
		LEFT JOIN inventory i ON i.game_id = g.id
		WHERE g.id = $1`

	err := scanGame(db.QueryRowContext(ctx, query, id), game)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrGameNotFound
		}
		return nil, fmt.Errorf("get game: %w", err)
	}

	return game, nil
}

func ListGames(ctx context.Context, db DBTX, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM games`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count games: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + gameColumns + `
		FROM games g
		LEFT JOIN inventory i ON i.game_id = g.id
		ORDER BY g.id
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	games := []models.Game{}
	for rows.Next() {
		var game models.Game
		if err := scanGame(rows, &game); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, game)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(games, total, page, pageSize), nil
}

func UpdateGamePrice(ctx context.Context, db DBTX, id int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("update game price: negative price %s", price)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE games SET price = $1, updated_at = NOW() WHERE id = $2`,
		price, id)
	if err != nil {
		return fmt.Errorf("update game price: %w", err)
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

// LockGameForCheckout share-locks the game row and returns the price in
// effect for the rest of the transaction. Concurrent price updates wait
// for the checkout to finish.
func LockGameForCheckout(ctx context.Context, tx *sql.Tx, id int64) (string, decimal.Decimal, error) {
	var title string
	var price decimal.Decimal

	err := tx.QueryRowContext(ctx,
		`SELECT title, price
		 FROM games
		 WHERE id = $1
		 FOR SHARE`,
		id).Scan(&title, &price)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", decimal.Zero, database.ErrGameNotFound
		}
		return "", decimal.Zero, fmt.Errorf("lock game %d: %w", id, err)
	}

	return title, price, nil
}
