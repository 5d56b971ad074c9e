package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/auth"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SECRET_KEY", " s3cret ")
	t.Setenv("ACCESS_TOKEN_TTL", "2h")

	cfg, err := auth.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.SecretKey)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
}

func TestLoadConfigFromEnvRequiresSecret(t *testing.T) {
	t.Setenv("SECRET_KEY", "")

	_, err := auth.LoadConfigFromEnv()
	require.Error(t, err)
}

func TestLoadConfigFromEnvDefaultsTTL(t *testing.T) {
	t.Setenv("SECRET_KEY", "s3cret")

	cfg, err := auth.LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}
