package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/metrics"
)

// Deps carries everything the router wires into handlers. Idempotency and
// Gatherer are optional.
type Deps struct {
	DB             *sql.DB
	Logger         *logger.Logger
	Auth           AuthService
	Checkout       Checkouter
	Idempotency    IdempotencyStore
	IdempotencyTTL time.Duration
	HTTPMetrics    *metrics.HTTPMetrics
	Gatherer       prometheus.Gatherer
	CORSOrigins    []string
}

func NewRouter(deps Deps) http.Handler {
	logg := deps.Logger
	r := chi.NewRouter()

	r.Use(recovererMiddleware(logg))
	r.Use(requestIDMiddleware(logg))
	r.Use(loggingMiddleware(logg, deps.HTTPMetrics))
	r.Use(corsMiddleware(deps.CORSOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), logg, w, newError(http.StatusNotFound, CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(r.Context(), logg, w, newError(http.StatusMethodNotAllowed, CodeValidation, "method not allowed"))
	})

	r.Get("/healthz", health(deps.DB, logg))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	requireAuth := authMiddleware(deps.Auth, logg)

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			ar.Post("/signup", Signup(deps.Auth, logg))
			ar.Post("/login", Login(deps.Auth, logg))
			ar.With(requireAuth).Post("/logout", Logout(deps.Auth, logg))
			ar.With(requireAuth).Get("/check", AuthCheck())
		})

		api.With(requireAuth).Get("/users/profile", Profile(deps.Auth, logg))

		api.Route("/games", func(gr chi.Router) {
			gr.Get("/", ListGames(deps.DB, logg))
			gr.Get("/{gameID}", GetGame(deps.DB, logg))
		})

		api.Route("/cart", func(cr chi.Router) {
			cr.Use(requireAuth)
			cr.Get("/", GetCart(deps.DB, logg))
			cr.Post("/add", AddToCart(deps.DB, logg))
			cr.Put("/update/{gameID}", UpdateCartItem(deps.DB, logg))
			cr.Delete("/remove/{gameID}", RemoveCartItem(deps.DB, logg))
			cr.Delete("/clear", ClearCart(deps.DB, logg))
		})

		api.Route("/orders", func(or chi.Router) {
			or.Use(requireAuth)
			or.With(idempotencyMiddleware(deps.Idempotency, deps.IdempotencyTTL, logg)).
				Post("/checkout", Checkout(deps.Checkout, logg))
			or.Get("/my-orders", MyOrders(deps.DB, logg))
			or.Get("/{orderID}", GetOrder(deps.DB, logg))
		})

		api.Route("/admin", func(adm chi.Router) {
			adm.Use(requireAuth, requireAdmin(logg))
			adm.Get("/orders", AdminListOrders(deps.DB, logg))
			adm.Put("/orders/{orderID}/status", AdminUpdateOrderStatus(deps.DB, logg))
			adm.Get("/inventory", AdminListInventory(deps.DB, logg))
			adm.Put("/inventory/{gameID}", AdminUpdateInventory(deps.DB, logg))
			adm.Get("/users", AdminListUsers(deps.DB, logg))
			adm.Post("/games", AdminCreateGame(deps.DB, logg))
			adm.Patch("/games/{gameID}/price", AdminUpdateGamePrice(deps.DB, logg))
		})
	})

	return r
}

func health(db *sql.DB, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if db == nil {
			writeSuccess(w, map[string]string{"status": "ok"})
			return
		}
		if err := db.PingContext(ctx); err != nil {
			writeError(r.Context(), logg, w, newError(http.StatusServiceUnavailable, CodeStorageUnavailable, "database unreachable").withCause(err))
			return
		}
		writeSuccess(w, map[string]string{"status": "ok", "database": "connected"})
	}
}
