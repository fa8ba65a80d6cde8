// Package checkout turns a user's cart into a completed, paid order in a
// single database transaction.
//
// Row locks are always taken in the same order: the user's cart lines,
// then for each game in ascending id order its inventory row (exclusive)
// and its catalog row (shared). Two checkouts touching the same games
// therefore queue behind each other instead of deadlocking, and a
// concurrent price change waits until the checkout that read the old
// price has committed.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/models"
	"github.com/safar/game-store/internal/store"
	"github.com/shopspring/decimal"
)

const (
	DefaultTimeout       = 5 * time.Second
	DefaultLockTimeout   = 2 * time.Second
	DefaultPaymentMethod = "Credit Card"
)

type Options struct {
	// Timeout bounds the whole transaction.
	Timeout time.Duration
	// LockTimeout bounds each individual row-lock wait.
	LockTimeout   time.Duration
	PaymentMethod string
}

// Recorder receives one observation per checkout attempt.
type Recorder interface {
	ObserveCheckout(outcome string, took time.Duration)
}

type Confirmation struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type Coordinator struct {
	db      *sql.DB
	log     *logger.Logger
	metrics Recorder
	opts    Options
}

func New(db *sql.DB, log *logger.Logger, metrics Recorder, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.LockTimeout <= 0 || opts.LockTimeout > opts.Timeout {
		opts.LockTimeout = min(DefaultLockTimeout, opts.Timeout)
	}
	if opts.PaymentMethod == "" {
		opts.PaymentMethod = DefaultPaymentMethod
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Coordinator{db: db, log: log, metrics: metrics, opts: opts}
}

// Checkout places an order for everything in the user's cart. On success
// the order is Completed, paid, stock is decremented and the cart is
// empty. On any error nothing is persisted.
func (c *Coordinator) Checkout(ctx context.Context, userID int64) (*Confirmation, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	ctx = c.log.WithUserID(ctx, userID)

	var conf *Confirmation
	err := database.WithTransaction(ctx, c.db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		LockTimeout:    c.opts.LockTimeout,
	}, func(tx *sql.Tx) error {
		var err error
		conf, err = c.run(ctx, tx, userID)
		return err
	})
	err = normalize(err)

	took := time.Since(start)
	if c.metrics != nil {
		c.metrics.ObserveCheckout(outcomeOf(err), took)
	}

	if err != nil {
		if errors.Is(err, ErrStorageUnavailable) {
			c.log.Error(ctx, "checkout failed", err)
		} else {
			c.log.Info(c.log.WithField(ctx, "reason", err.Error()), "checkout rejected")
		}
		return nil, err
	}

	c.log.Info(c.log.WithFields(ctx, map[string]any{
		"order_id":     conf.OrderID,
		"order_number": conf.OrderNumber,
		"total_amount": conf.TotalAmount.StringFixed(2),
		"duration_ms":  took.Milliseconds(),
	}), "checkout completed")

	return conf, nil
}

type pricedLine struct {
	gameID    int64
	quantity  int
	unitPrice decimal.Decimal
}

func (c *Coordinator) run(ctx context.Context, tx *sql.Tx, userID int64) (*Confirmation, error) {
	// Ordered by game id, which is also the inventory lock order.
	cartLines, err := store.LockCartLines(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if len(cartLines) == 0 {
		return nil, ErrEmptyCart
	}

	lines := make([]pricedLine, 0, len(cartLines))
	total := decimal.Zero

	for _, cl := range cartLines {
		inv, err := store.LockInventory(ctx, tx, cl.GameID)
		if err != nil {
			return nil, err
		}

		_, price, err := store.LockGameForCheckout(ctx, tx, cl.GameID)
		if err != nil {
			if errors.Is(err, database.ErrGameNotFound) {
				return nil, &GameError{GameID: cl.GameID, Err: ErrGameNotFound}
			}
			return nil, err
		}

		if inv.StockQuantity < cl.Quantity {
			return nil, &GameError{GameID: cl.GameID, Err: ErrInsufficientStock}
		}

		lines = append(lines, pricedLine{gameID: cl.GameID, quantity: cl.Quantity, unitPrice: price})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(cl.Quantity))))
	}

	order, err := store.InsertOrder(ctx, tx, userID, total)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		if _, err := store.InsertOrderLine(ctx, tx, order.ID, line.gameID, line.quantity, line.unitPrice); err != nil {
			return nil, err
		}
	}

	if _, err := store.InsertPayment(ctx, tx, order.ID, models.PaymentStatusPaid, c.opts.PaymentMethod); err != nil {
		return nil, err
	}

	for _, line := range lines {
		err := store.DecrementStock(ctx, tx, line.gameID, line.quantity)
		if errors.Is(err, database.ErrInsufficientStock) {
			// Stock was checked under the row lock; the guard can only
			// trip if the lock was not honoured.
			err = fmt.Errorf("%w: stock guard rejected game %d after validation", ErrStorageUnavailable, line.gameID)
			c.log.Error(ctx, "checkout invariant violated", err)
			return nil, err
		}
		if err != nil {
			return nil, err
		}
	}

	if err := store.SetOrderStatus(ctx, tx, order.ID, models.OrderStatusCompleted); err != nil {
		return nil, err
	}

	// Only the lines this checkout locked and paid for. A line added
	// concurrently by the same user is left for the next checkout.
	gameIDs := make([]int64, len(lines))
	for i, line := range lines {
		gameIDs[i] = line.gameID
	}
	cleared, err := store.ClearCartLines(ctx, tx, userID, gameIDs)
	if err != nil {
		return nil, err
	}
	if cleared != int64(len(cartLines)) {
		// Locked rows cannot disappear before commit.
		err := fmt.Errorf("%w: cleared %d cart lines, locked %d", ErrStorageUnavailable, cleared, len(cartLines))
		c.log.Error(ctx, "checkout invariant violated", err)
		return nil, err
	}

	return &Confirmation{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		TotalAmount: total,
	}, nil
}
