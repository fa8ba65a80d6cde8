package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CHECKOUT_TIMEOUT", "")
	t.Setenv("CHECKOUT_LOCK_TIMEOUT", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Checkout.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Checkout.LockTimeout)
	assert.Equal(t, "Credit Card", cfg.Checkout.PaymentMethod)
	assert.Equal(t, devJWTSecret, cfg.Auth.JWTSecret)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadRejectsLockTimeoutAboveCheckoutTimeout(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("CHECKOUT_TIMEOUT", "1s")
	t.Setenv("CHECKOUT_LOCK_TIMEOUT", "3s")

	_, err := Load()
	require.Error(t, err)
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, getEnvList("CORS_ALLOWED_ORIGINS", nil))

	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	assert.Equal(t, []string{"x"}, getEnvList("CORS_ALLOWED_ORIGINS", []string{"x"}))
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Minute, getEnvDuration("SOME_DURATION", time.Minute))
}
