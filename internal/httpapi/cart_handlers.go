package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/store"
)

type addToCartRequest struct {
	GameID   int64 `json:"game_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"required,gt=0,lte=100"`
}

type updateCartRequest struct {
	Quantity int `json:"quantity" validate:"required,gt=0,lte=100"`
}

func GetCart(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		cart, err := store.GetCart(ctx, db, claimsFromContext(ctx).UserID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, cart)
	}
}

func AddToCart(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req addToCartRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		line, err := store.AddToCart(ctx, db, claimsFromContext(ctx).UserID, req.GameID, req.Quantity)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, line)
	}
}

func UpdateCartItem(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gameID, err := pathID(r, "gameID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		var req updateCartRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		userID := claimsFromContext(ctx).UserID
		if err := store.UpdateCartQuantity(ctx, db, userID, gameID, req.Quantity); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		cart, err := store.GetCart(ctx, db, userID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, cart)
	}
}

func RemoveCartItem(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gameID, err := pathID(r, "gameID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		if err := store.RemoveFromCart(ctx, db, claimsFromContext(ctx).UserID, gameID); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, map[string]any{"game_id": gameID, "removed": true})
	}
}

func ClearCart(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		removed, err := store.ClearCart(ctx, db, claimsFromContext(ctx).UserID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, map[string]any{"removed_items": removed})
	}
}
