package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/safar/game-store/internal/checkout"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/models"
	"github.com/safar/game-store/internal/store"
)

// Checkouter turns a user's cart into a completed order.
type Checkouter interface {
	Checkout(ctx context.Context, userID int64) (*checkout.Confirmation, error)
}

func Checkout(svc Checkouter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		confirmation, err := svc.Checkout(ctx, claimsFromContext(ctx).UserID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccessStatus(w, http.StatusCreated, confirmation)
	}
}

func MyOrders(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := queryInt(r, "limit", store.DefaultPageSize, 1, store.MaxPageSize)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

		page, err := store.ListOrdersCursor(ctx, db, claimsFromContext(ctx).UserID, cursor, limit)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, page)
	}
}

// GetOrder only returns orders owned by the caller; someone else's order
// is reported as not found.
func GetOrder(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := pathID(r, "orderID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		order, err := store.GetOrder(ctx, db, orderID, claimsFromContext(ctx).UserID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, order)
	}
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Pending Completed Cancelled"`
}

func AdminListOrders(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		page, err := queryInt(r, "page", 1, 1, 1_000_000)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		pageSize, err := queryInt(r, "page_size", store.DefaultPageSize, 1, store.MaxPageSize)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		status := strings.TrimSpace(r.URL.Query().Get("status"))
		if status != "" && !models.ValidOrderStatus(status) {
			writeError(ctx, logg, w, validationError("unknown order status", map[string]any{
				"status":  status,
				"allowed": []string{models.OrderStatusPending, models.OrderStatusCompleted, models.OrderStatusCancelled},
			}))
			return
		}

		result, err := store.ListAllOrders(ctx, db, status, page, pageSize)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, result)
	}
}

func AdminUpdateOrderStatus(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := pathID(r, "orderID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		var req updateOrderStatusRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		order, err := store.UpdateOrderStatus(ctx, db, orderID, req.Status)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"order_id": orderID,
				"status":   order.Status,
			}), "order.status_updated")
		}
		writeSuccess(w, order)
	}
}
