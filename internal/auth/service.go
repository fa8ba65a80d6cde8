package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/safar/game-store/internal/config"
	"github.com/safar/game-store/internal/database"
	"github.com/safar/game-store/internal/models"
	"github.com/safar/game-store/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("not authenticated")
	ErrRoleNotAllowed     = errors.New("role not allowed for self sign-up")
)

// Revoker remembers logged-out token ids until they expire.
type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type Service struct {
	db               *sql.DB
	cfg              config.AuthConfig
	revoker          Revoker
	allowAdminSignup bool
	now              func() time.Time
}

// NewService wires the auth flows. revoker may be nil, in which case logout
// only tells the client to drop its token.
func NewService(db *sql.DB, cfg config.AuthConfig, revoker Revoker, allowAdminSignup bool) *Service {
	return &Service{
		db:               db,
		cfg:              cfg,
		revoker:          revoker,
		allowAdminSignup: allowAdminSignup,
		now:              time.Now,
	}
}

type SignupInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

type Session struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
	IsAdmin   bool         `json:"is_admin"`
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*models.User, error) {
	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = models.RoleUser
	}
	switch role {
	case models.RoleUser:
	case models.RoleAdmin:
		if !s.allowAdminSignup {
			return nil, ErrRoleNotAllowed
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrRoleNotAllowed, role)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	return store.CreateUser(ctx, s.db, strings.TrimSpace(in.Username), strings.TrimSpace(in.Email), hash, role)
}

func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := store.GetUserByUsername(ctx, s.db, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, claims, err := MintAccessToken(s.cfg, s.now(), user)
	if err != nil {
		return nil, err
	}

	return &Session{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user,
		IsAdmin:   user.IsAdmin(),
	}, nil
}

// Authenticate parses the bearer token and rejects revoked ones. A failing
// revocation lookup rejects the token as well.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := ParseAccessToken(s.cfg, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: revocation check: %v", ErrUnauthorized, err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrUnauthorized)
		}
	}

	return claims, nil
}

// Logout revokes the token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if s.revoker == nil || claims == nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

func (s *Service) Profile(ctx context.Context, userID int64) (*models.User, error) {
	return store.GetUser(ctx, s.db, userID)
}
