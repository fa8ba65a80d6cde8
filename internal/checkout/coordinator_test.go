package checkout_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/safar/game-store/internal/checkout"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/metrics"
	"github.com/safar/game-store/internal/models"
	"github.com/safar/game-store/internal/store"
	"github.com/safar/game-store/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(db *sql.DB, opts checkout.Options) *checkout.Coordinator {
	return checkout.New(db, logger.Nop(), nil, opts)
}

func TestCheckoutTwoGames(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	gameA := testutil.CreateGame(t, db, "10.00", 5)
	gameB := testutil.CreateGame(t, db, "5.00", 1)
	testutil.AddToCart(t, db, user.ID, gameA.ID, 2)
	testutil.AddToCart(t, db, user.ID, gameB.ID, 1)

	conf, err := newCoordinator(db, checkout.Options{}).Checkout(ctx, user.ID)
	require.NoError(t, err)

	assert.True(t, conf.TotalAmount.Equal(decimal.NewFromInt(25)), "total %s", conf.TotalAmount)
	assert.NotEmpty(t, conf.OrderNumber)

	assert.Equal(t, 3, testutil.Stock(t, db, gameA.ID))
	assert.Equal(t, 0, testutil.Stock(t, db, gameB.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))

	order, err := store.GetOrder(ctx, db, conf.OrderID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.Status)
	assert.Equal(t, conf.OrderNumber, order.OrderNumber)
	require.Len(t, order.Lines, 2)
	require.NotNil(t, order.Payment)
	assert.Equal(t, models.PaymentStatusPaid, order.Payment.Status)
	assert.Equal(t, checkout.DefaultPaymentMethod, order.Payment.Method)

	sum := decimal.Zero
	for _, line := range order.Lines {
		sum = sum.Add(line.Subtotal)
	}
	assert.True(t, sum.Equal(order.TotalAmount), "lines %s vs total %s", sum, order.TotalAmount)
}

func TestCheckoutInsufficientStockChangesNothing(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	gameA := testutil.CreateGame(t, db, "10.00", 5)
	gameB := testutil.CreateGame(t, db, "5.00", 0)
	testutil.AddToCart(t, db, user.ID, gameA.ID, 2)
	testutil.AddToCart(t, db, user.ID, gameB.ID, 1)

	_, err := newCoordinator(db, checkout.Options{}).Checkout(ctx, user.ID)
	require.ErrorIs(t, err, checkout.ErrInsufficientStock)
	assert.NotErrorIs(t, err, checkout.ErrStorageUnavailable)

	gameID, ok := checkout.GameIDOf(err)
	require.True(t, ok)
	assert.Equal(t, gameB.ID, gameID)

	assert.Equal(t, 5, testutil.Stock(t, db, gameA.ID))
	assert.Equal(t, 0, testutil.Stock(t, db, gameB.ID))
	assert.Equal(t, 2, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "orders", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "payments", ""))
}

func TestCheckoutGameMissingChangesNothing(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	gameA := testutil.CreateGame(t, db, "10.00", 5)
	gameB := testutil.CreateGame(t, db, "5.00", 4)
	testutil.AddToCart(t, db, user.ID, gameA.ID, 2)
	testutil.AddToCart(t, db, user.ID, gameB.ID, 1)

	// Leave a cart line pointing at a game that no longer exists.
	_, err := db.ExecContext(ctx, `ALTER TABLE cart_items DROP CONSTRAINT cart_items_game_id_fkey`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, gameB.ID)
	require.NoError(t, err)

	_, err = newCoordinator(db, checkout.Options{}).Checkout(ctx, user.ID)
	require.ErrorIs(t, err, checkout.ErrGameNotFound)
	assert.NotErrorIs(t, err, checkout.ErrStorageUnavailable)

	gameID, ok := checkout.GameIDOf(err)
	require.True(t, ok)
	assert.Equal(t, gameB.ID, gameID)

	assert.Equal(t, 5, testutil.Stock(t, db, gameA.ID))
	assert.Equal(t, 2, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "orders", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "order_lines", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "payments", ""))
}

func TestCheckoutMissingInventoryIsOutOfStock(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	gameA := testutil.CreateGame(t, db, "10.00", 5)
	gameB := testutil.CreateGame(t, db, "5.00", 4)
	testutil.AddToCart(t, db, user.ID, gameA.ID, 2)
	testutil.AddToCart(t, db, user.ID, gameB.ID, 1)

	_, err := db.ExecContext(ctx, `DELETE FROM inventory WHERE game_id = $1`, gameB.ID)
	require.NoError(t, err)

	_, err = newCoordinator(db, checkout.Options{}).Checkout(ctx, user.ID)
	require.ErrorIs(t, err, checkout.ErrInsufficientStock)
	assert.NotErrorIs(t, err, checkout.ErrStorageUnavailable)

	gameID, ok := checkout.GameIDOf(err)
	require.True(t, ok)
	assert.Equal(t, gameB.ID, gameID)

	assert.Equal(t, 5, testutil.Stock(t, db, gameA.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "inventory", "game_id = $1", gameB.ID))
	assert.Equal(t, 2, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "orders", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "order_lines", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "payments", ""))
}

func TestCheckoutKeepsLineAddedMidFlight(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	gameA := testutil.CreateGame(t, db, "10.00", 5)
	gameB := testutil.CreateGame(t, db, "5.00", 5)
	testutil.AddToCart(t, db, user.ID, gameA.ID, 1)

	// Park the checkout on the inventory lock, after it has locked the
	// cart lines it is going to pay for.
	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = holder.ExecContext(ctx, `SELECT 1 FROM inventory WHERE game_id = $1 FOR UPDATE`, gameA.ID)
	require.NoError(t, err)

	coord := newCoordinator(db, checkout.Options{Timeout: 10 * time.Second, LockTimeout: 10 * time.Second})
	type result struct {
		conf *checkout.Confirmation
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conf, err := coord.Checkout(ctx, user.ID)
		done <- result{conf, err}
	}()

	require.Eventually(t, func() bool {
		var waiting int
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pg_locks WHERE NOT granted`).Scan(&waiting)
		return err == nil && waiting > 0
	}, 5*time.Second, 20*time.Millisecond)

	testutil.AddToCart(t, db, user.ID, gameB.ID, 2)
	require.NoError(t, holder.Rollback())

	res := <-done
	require.NoError(t, res.err)

	order, err := store.GetOrder(ctx, db, res.conf.OrderID, user.ID)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, gameA.ID, order.Lines[0].GameID)

	assert.Equal(t, 4, testutil.Stock(t, db, gameA.ID))
	assert.Equal(t, 5, testutil.Stock(t, db, gameB.ID))
	assert.Equal(t, 1, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))
	assert.Equal(t, 1, testutil.CountRows(t, db, "cart_items", "user_id = $1 AND game_id = $2", user.ID, gameB.ID))
}

func TestCheckoutEmptyCart(t *testing.T) {
	db := testutil.NewTestDB(t)

	user := testutil.CreateUser(t, db, models.RoleUser)

	_, err := newCoordinator(db, checkout.Options{}).Checkout(context.Background(), user.ID)
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)
	assert.Equal(t, 0, testutil.CountRows(t, db, "orders", ""))
}

func TestCheckoutUsesPriceAtCommit(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	game := testutil.CreateGame(t, db, "10.00", 5)
	testutil.AddToCart(t, db, user.ID, game.ID, 2)

	require.NoError(t, store.UpdateGamePrice(ctx, db, game.ID, decimal.RequireFromString("12.50")))

	conf, err := newCoordinator(db, checkout.Options{PaymentMethod: "PayPal"}).Checkout(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, conf.TotalAmount.Equal(decimal.NewFromInt(25)), "total %s", conf.TotalAmount)

	order, err := store.GetOrder(ctx, db, conf.OrderID, 0)
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.True(t, order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, "PayPal", order.Payment.Method)

	// Later catalog changes do not touch the order.
	require.NoError(t, store.UpdateGamePrice(ctx, db, game.ID, decimal.NewFromInt(99)))
	order, err = store.GetOrder(ctx, db, conf.OrderID, 0)
	require.NoError(t, err)
	assert.True(t, order.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	const stock = 5
	const buyers = 12

	game := testutil.CreateGame(t, db, "20.00", stock)
	users := make([]*models.User, buyers)
	for i := range users {
		users[i] = testutil.CreateUser(t, db, models.RoleUser)
		testutil.AddToCart(t, db, users[i].ID, game.ID, 1)
	}

	reg := prometheus.NewRegistry()
	coord := checkout.New(db, logger.Nop(), metrics.NewCheckoutMetrics(reg), checkout.Options{LockTimeout: 5 * time.Second, Timeout: 20 * time.Second})

	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := coord.Checkout(ctx, userID)
			results <- err
		}(u.ID)
	}
	wg.Wait()
	close(results)

	successCount, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, checkout.ErrInsufficientStock):
			rejected++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	assert.Equal(t, stock, successCount)
	assert.Equal(t, buyers-stock, rejected)
	assert.Equal(t, 0, testutil.Stock(t, db, game.ID))
	assert.Equal(t, stock, testutil.CountRows(t, db, "orders", "status = $1", models.OrderStatusCompleted))
	assert.Equal(t, buyers-stock, testutil.CountRows(t, db, "cart_items", ""))

	count, err := promtest.GatherAndCount(reg, "gamestore_checkout_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestOppositeCartOrderDoesNotDeadlock(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	gameA := testutil.CreateGame(t, db, "10.00", 100)
	gameB := testutil.CreateGame(t, db, "5.00", 100)

	const rounds = 10
	coord := newCoordinator(db, checkout.Options{Timeout: 20 * time.Second, LockTimeout: 10 * time.Second})

	var wg sync.WaitGroup
	results := make(chan error, rounds*2)
	for i := 0; i < rounds; i++ {
		first := testutil.CreateUser(t, db, models.RoleUser)
		testutil.AddToCart(t, db, first.ID, gameA.ID, 1)
		testutil.AddToCart(t, db, first.ID, gameB.ID, 1)

		second := testutil.CreateUser(t, db, models.RoleUser)
		testutil.AddToCart(t, db, second.ID, gameB.ID, 1)
		testutil.AddToCart(t, db, second.ID, gameA.ID, 1)

		for _, id := range []int64{first.ID, second.ID} {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				_, err := coord.Checkout(ctx, userID)
				results <- err
			}(id)
		}
	}
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, 100-2*rounds, testutil.Stock(t, db, gameA.ID))
	assert.Equal(t, 100-2*rounds, testutil.Stock(t, db, gameB.ID))
}

func TestSameUserDoubleCheckout(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	game := testutil.CreateGame(t, db, "10.00", 10)
	testutil.AddToCart(t, db, user.ID, game.ID, 2)

	coord := newCoordinator(db, checkout.Options{Timeout: 10 * time.Second, LockTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Checkout(ctx, user.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successCount, empty := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, checkout.ErrEmptyCart):
			empty++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successCount)
	assert.Equal(t, 1, empty)
	assert.Equal(t, 8, testutil.Stock(t, db, game.ID))
	assert.Equal(t, 1, testutil.CountRows(t, db, "orders", "user_id = $1", user.ID))
}

func TestCheckoutRollsBackOnLateFailure(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	game := testutil.CreateGame(t, db, "10.00", 5)
	testutil.AddToCart(t, db, user.ID, game.ID, 2)

	// Fail the very last step of checkout, after order, payment and stock
	// writes have been issued.
	_, err := db.ExecContext(ctx, `
		CREATE FUNCTION fail_cart_delete() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'cart delete blocked';
		END;
		$$ LANGUAGE plpgsql;

		CREATE TRIGGER block_cart_delete BEFORE DELETE ON cart_items
		FOR EACH ROW EXECUTE FUNCTION fail_cart_delete();`)
	require.NoError(t, err)

	_, err = newCoordinator(db, checkout.Options{}).Checkout(ctx, user.ID)
	require.ErrorIs(t, err, checkout.ErrStorageUnavailable)

	assert.Equal(t, 5, testutil.Stock(t, db, game.ID))
	assert.Equal(t, 0, testutil.CountRows(t, db, "orders", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "order_lines", ""))
	assert.Equal(t, 0, testutil.CountRows(t, db, "payments", ""))
	assert.Equal(t, 1, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))
}

func TestCheckoutLockTimeout(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, models.RoleUser)
	game := testutil.CreateGame(t, db, "10.00", 5)
	testutil.AddToCart(t, db, user.ID, game.ID, 1)

	holder, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer holder.Rollback()

	_, err = holder.ExecContext(ctx, `SELECT 1 FROM inventory WHERE game_id = $1 FOR UPDATE`, game.ID)
	require.NoError(t, err)

	coord := newCoordinator(db, checkout.Options{Timeout: 5 * time.Second, LockTimeout: 200 * time.Millisecond})

	start := time.Now()
	_, err = coord.Checkout(ctx, user.ID)
	require.ErrorIs(t, err, checkout.ErrStorageUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.NoError(t, holder.Rollback())

	assert.Equal(t, 5, testutil.Stock(t, db, game.ID))
	assert.Equal(t, 1, testutil.CountRows(t, db, "cart_items", "user_id = $1", user.ID))

	_, err = coord.Checkout(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, testutil.Stock(t, db, game.ID))
}

func TestCheckoutDeadlineExceeded(t *testing.T) {
	db := testutil.NewTestDB(t)

	user := testutil.CreateUser(t, db, models.RoleUser)
	game := testutil.CreateGame(t, db, "10.00", 5)
	testutil.AddToCart(t, db, user.ID, game.ID, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(db, checkout.Options{}).Checkout(ctx, user.ID)
	require.ErrorIs(t, err, checkout.ErrStorageUnavailable)
	assert.Equal(t, 5, testutil.Stock(t, db, game.ID))
}
