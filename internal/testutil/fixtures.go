package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/safar/game-store/internal/models"
	"github.com/safar/game-store/internal/store"
	"github.com/shopspring/decimal"
)

var seq atomic.Int64

// CreateUser inserts a user with a unique name. The password hash is a
// placeholder; fixtures never log in.
func CreateUser(t *testing.T, db *sql.DB, role string) *models.User {
	t.Helper()

	n := seq.Add(1)
	user, err := store.CreateUser(context.Background(), db,
		fmt.Sprintf("user%d", n), fmt.Sprintf("user%d@example.com", n), "x", role)
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

// CreateGame inserts a game priced at price (a decimal string) with the
// given stock.
func CreateGame(t *testing.T, db *sql.DB, price string, stock int) *models.Game {
	t.Helper()

	n := seq.Add(1)
	game, err := store.CreateGame(context.Background(), db, store.NewGame{
		Title:        fmt.Sprintf("Game %d", n),
		Genre:        "Action",
		Platform:     "PC",
		Price:        decimal.RequireFromString(price),
		InitialStock: stock,
	})
	if err != nil {
		t.Fatalf("Create game: %v", err)
	}
	return game
}

func AddToCart(t *testing.T, db *sql.DB, userID, gameID int64, quantity int) {
	t.Helper()

	if _, err := store.AddToCart(context.Background(), db, userID, gameID, quantity); err != nil {
		t.Fatalf("Add to cart: %v", err)
	}
}

func Stock(t *testing.T, db *sql.DB, gameID int64) int {
	t.Helper()

	var stock int
	err := db.QueryRowContext(context.Background(),
		`SELECT stock_quantity FROM inventory WHERE game_id = $1`, gameID).Scan(&stock)
	if err != nil {
		t.Fatalf("Get stock: %v", err)
	}
	return stock
}

// CountRows returns the number of rows in table matching where.
func CountRows(t *testing.T, db *sql.DB, table, where string, args ...any) int {
	t.Helper()

	var n int
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("Count %s: %v", table, err)
	}
	return n
}
