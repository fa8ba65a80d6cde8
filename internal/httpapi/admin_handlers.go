package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/store"
)

// updateInventoryRequest sets the stock level. With a version the update is
// optimistic and fails if someone else changed the row first.
type updateInventoryRequest struct {
	StockQuantity *int `json:"stock_quantity" validate:"required,gte=0"`
	Version       *int `json:"version" validate:"omitempty,gte=1"`
}

func AdminListInventory(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		items, err := store.ListInventory(ctx, db)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, items)
	}
}

func AdminUpdateInventory(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gameID, err := pathID(r, "gameID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		var req updateInventoryRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		if req.Version != nil {
			record, err := store.UpdateStockOptimistic(ctx, db, gameID, *req.StockQuantity, *req.Version)
			if err != nil {
				writeError(ctx, logg, w, err)
				return
			}
			writeSuccess(w, record)
			return
		}

		record, err := store.SetStock(ctx, db, gameID, *req.StockQuantity)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, record)
	}
}

func AdminListUsers(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
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

		result, err := store.ListUsers(ctx, db, page, pageSize)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, result)
	}
}
