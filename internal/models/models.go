package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

type Game struct {
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Genre         string          `json:"genre,omitempty"`
	Platform      string          `json:"platform,omitempty"`
	Description   string          `json:"description,omitempty"`
	ImageURL      string          `json:"image_url,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type InventoryRecord struct {
	GameID        int64           `json:"game_id"`
	StockQuantity int             `json:"stock_quantity"`
	Version       int             `json:"version"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Title         string          `json:"title,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Genre         string          `json:"genre,omitempty"`
	Platform      string          `json:"platform,omitempty"`
}

// MaxCartQuantity caps a single cart line.
const MaxCartQuantity = 100

type CartLine struct {
	UserID    int64           `json:"-"`
	GameID    int64           `json:"game_id"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"added_at"`
	Title     string          `json:"title,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Cart struct {
	UserID int64           `json:"user_id"`
	Items  []CartLine      `json:"items"`
	Total  decimal.Decimal `json:"total"`
}

type Order struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	OrderNumber string          `json:"order_number"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Username    string          `json:"username,omitempty"`
	Payment     *Payment        `json:"payment,omitempty"`
	Lines       []OrderLine     `json:"items,omitempty"`
}

// OrderLine keeps the unit price paid at checkout, independent of later
// catalog price changes.
type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	GameID    int64           `json:"game_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
	Title     string          `json:"title,omitempty"`
	Genre     string          `json:"genre,omitempty"`
	Platform  string          `json:"platform,omitempty"`
}

type Payment struct {
	ID      int64     `json:"id"`
	OrderID int64     `json:"order_id"`
	PaidAt  time.Time `json:"paid_at"`
	Status  string    `json:"status"`
	Method  string    `json:"method"`
}

const (
	OrderStatusPending   = "Pending"
	OrderStatusCompleted = "Completed"
	OrderStatusCancelled = "Cancelled"
)

const PaymentStatusPaid = "Paid"

func ValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an order may move from one status to
// another. Cancelled is terminal; a same-status move is allowed as a no-op.
func CanTransition(from, to string) bool {
	if !ValidOrderStatus(from) || !ValidOrderStatus(to) {
		return false
	}
	if from == to {
		return true
	}
	switch from {
	case OrderStatusPending:
		return to == OrderStatusCompleted || to == OrderStatusCancelled
	case OrderStatusCompleted:
		return to == OrderStatusCancelled
	}
	return false
}
