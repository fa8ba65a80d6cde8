package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/store"
)

func ListGames(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
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

		result, err := store.ListGames(ctx, db, page, pageSize)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, result)
	}
}

func GetGame(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gameID, err := pathID(r, "gameID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		game, err := store.GetGame(ctx, db, gameID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, game)
	}
}

type createGameRequest struct {
	Title        string          `json:"title" validate:"required,max=200"`
	Genre        string          `json:"genre" validate:"max=50"`
	Platform     string          `json:"platform" validate:"max=50"`
	Description  string          `json:"description"`
	ImageURL     string          `json:"image_url" validate:"omitempty,url,max=500"`
	Price        decimal.Decimal `json:"price" validate:"gte=0"`
	InitialStock int             `json:"initial_stock" validate:"gte=0"`
}

type updatePriceRequest struct {
	Price decimal.Decimal `json:"price" validate:"gte=0"`
}

func AdminCreateGame(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createGameRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		game, err := store.CreateGame(ctx, db, store.NewGame{
			Title:        req.Title,
			Genre:        req.Genre,
			Platform:     req.Platform,
			Description:  req.Description,
			ImageURL:     req.ImageURL,
			Price:        req.Price.Round(2),
			InitialStock: req.InitialStock,
		})
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccessStatus(w, http.StatusCreated, game)
	}
}

func AdminUpdateGamePrice(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		gameID, err := pathID(r, "gameID")
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		var req updatePriceRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		if err := store.UpdateGamePrice(ctx, db, gameID, req.Price.Round(2)); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		game, err := store.GetGame(ctx, db, gameID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, game)
	}
}
