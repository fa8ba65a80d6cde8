package httpapi

import (
	"context"
	"net/http"

	"github.com/safar/game-store/internal/auth"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/models"
)

// AuthService is what the HTTP layer needs from the auth package.
type AuthService interface {
	Authenticator
	Signup(ctx context.Context, in auth.SignupInput) (*models.User, error)
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	Profile(ctx context.Context, userID int64) (*models.User, error)
}

type signupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func Signup(svc AuthService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req signupRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		user, err := svc.Signup(ctx, auth.SignupInput{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
			Role:     req.Role,
		})
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccessStatus(w, http.StatusCreated, user)
	}
}

func Login(svc AuthService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req loginRequest
		if err := decodeJSONBody(r, &req); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		session, err := svc.Login(ctx, req.Username, req.Password)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithUserID(ctx, session.User.ID), "auth.login")
		}
		writeSuccess(w, session)
	}
}

func Logout(svc AuthService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := svc.Logout(ctx, claimsFromContext(ctx)); err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, map[string]string{"message": "logged out"})
	}
}

// AuthCheck echoes the identity carried by the bearer token.
func AuthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		writeSuccess(w, map[string]any{
			"user_id":  claims.UserID,
			"username": claims.Username,
			"role":     claims.Role,
			"is_admin": claims.IsAdmin(),
		})
	}
}

func Profile(svc AuthService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		user, err := svc.Profile(ctx, claimsFromContext(ctx).UserID)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		writeSuccess(w, user)
	}
}
