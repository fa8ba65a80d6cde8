package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassPermanent},
		{"serialization", &pq.Error{Code: "40001"}, ErrorClassSerialization},
		{"deadlock", fmt.Errorf("lock inventory: %w", &pq.Error{Code: "40P01"}), ErrorClassDeadlock},
		{"lock not available", &pq.Error{Code: "55P03"}, ErrorClassTransient},
		{"query canceled", &pq.Error{Code: "57014"}, ErrorClassTimeout},
		{"admin shutdown", &pq.Error{Code: "57P01"}, ErrorClassConnection},
		{"connection failure", &pq.Error{Code: "08006"}, ErrorClassConnection},
		{"check violation", &pq.Error{Code: "23514"}, ErrorClassIntegrity},
		{"bad conn", driver.ErrBadConn, ErrorClassConnection},
		{"deadline", fmt.Errorf("begin: %w", context.DeadlineExceeded), ErrorClassTimeout},
		{"plain", errors.New("boom"), ErrorClassPermanent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestIsStorageUnavailable(t *testing.T) {
	assert.True(t, IsStorageUnavailable(&pq.Error{Code: "55P03"}))
	assert.True(t, IsStorageUnavailable(&pq.Error{Code: "40P01"}))
	assert.True(t, IsStorageUnavailable(context.Canceled))
	assert.False(t, IsStorageUnavailable(&pq.Error{Code: "23505"}))
	assert.False(t, IsStorageUnavailable(ErrInsufficientStock))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "08006"}))
	assert.False(t, IsRetryable(ErrInvalidTransition))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("create user: %w", &pq.Error{Code: "23505", Constraint: "users_email_key"})
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "users_email_key"))
	assert.False(t, IsUniqueViolation(err, "users_username_key"))
	assert.False(t, IsUniqueViolation(errors.New("x"), ""))
}
