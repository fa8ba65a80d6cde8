package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/safar/game-store/internal/auth"
	"github.com/safar/game-store/internal/checkout"
	"github.com/safar/game-store/internal/logger"
	"github.com/safar/game-store/internal/models"
)

const (
	userToken  = "user-token"
	adminToken = "admin-token"
)

type stubAuth struct {
	mu        sync.Mutex
	loggedOut []string
	signupErr error
}

func (s *stubAuth) Authenticate(_ context.Context, token string) (*auth.Claims, error) {
	switch token {
	case userToken:
		return &auth.Claims{UserID: 7, Username: "alice", Role: models.RoleUser,
			RegisteredClaims: jwt.RegisteredClaims{ID: "jti-user"}}, nil
	case adminToken:
		return &auth.Claims{UserID: 1, Username: "root", Role: models.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{ID: "jti-admin"}}, nil
	}
	return nil, auth.ErrUnauthorized
}

func (s *stubAuth) Signup(_ context.Context, in auth.SignupInput) (*models.User, error) {
	if s.signupErr != nil {
		return nil, s.signupErr
	}
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	return &models.User{ID: 99, Username: in.Username, Email: in.Email, Role: role}, nil
}

func (s *stubAuth) Login(_ context.Context, username, password string) (*auth.Session, error) {
	if password != "secret1" {
		return nil, auth.ErrInvalidCredentials
	}
	user := &models.User{ID: 7, Username: username, Role: models.RoleUser}
	return &auth.Session{Token: userToken, ExpiresAt: time.Now().Add(time.Hour), User: user}, nil
}

func (s *stubAuth) Logout(_ context.Context, claims *auth.Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loggedOut = append(s.loggedOut, claims.ID)
	return nil
}

func (s *stubAuth) Profile(_ context.Context, userID int64) (*models.User, error) {
	return &models.User{ID: userID, Username: "alice", Role: models.RoleUser}, nil
}

type stubCheckout struct {
	mu    sync.Mutex
	calls int
	users []int64
	err   error
}

func (s *stubCheckout) Checkout(_ context.Context, userID int64) (*checkout.Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.users = append(s.users, userID)
	if s.err != nil {
		return nil, s.err
	}
	return &checkout.Confirmation{OrderID: int64(100 + s.calls), OrderNumber: "ORD-TEST"}, nil
}

func (s *stubCheckout) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errBoom = errors.New("boom")

func newTestRouter(authSvc AuthService, co Checkouter, idem IdempotencyStore) http.Handler {
	return NewRouter(Deps{
		Logger:      logger.Nop(),
		Auth:        authSvc,
		Checkout:    co,
		Idempotency: idem,
		CORSOrigins: []string{"http://localhost:3000"},
	})
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}
