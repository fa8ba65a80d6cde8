package checkout

import (
	"errors"
	"fmt"

	"github.com/safar/game-store/internal/metrics"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrGameNotFound      = errors.New("game not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrStorageUnavailable covers lock and statement timeouts, deadlocks,
	// serialization failures, lost connections, expired deadlines and
	// broken invariants. Nothing was committed; the caller may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// GameError attaches the offending game to ErrGameNotFound or
// ErrInsufficientStock.
type GameError struct {
	GameID int64
	Err    error
}

func (e *GameError) Error() string {
	return fmt.Sprintf("%v: game %d", e.Err, e.GameID)
}

func (e *GameError) Unwrap() error {
	return e.Err
}

// GameIDOf returns the game a rejection refers to, if any.
func GameIDOf(err error) (int64, bool) {
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr.GameID, true
	}
	return 0, false
}

// normalize keeps rejections as they are and folds everything else into
// ErrStorageUnavailable, keeping the cause in the chain.
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrGameNotFound),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrStorageUnavailable):
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrEmptyCart):
		return metrics.OutcomeEmptyCart
	case errors.Is(err, ErrGameNotFound):
		return metrics.OutcomeGameNotFound
	case errors.Is(err, ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	}
	return metrics.OutcomeStorageUnavailable
}
