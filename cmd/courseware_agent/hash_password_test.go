package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/courseware-agent/internal/config"
)

func TestHashPasswordCommand(t *testing.T) {
	t.Setenv("BCRYPT_COST", "10")
	t.Setenv("PASSWORD_PEPPER", "")

	output, err := execute(t, "hash-password", "s3cret-admin")
	require.NoError(t, err)

	hash := strings.TrimSpace(output)
	assert.True(t, strings.HasPrefix(hash, "$2a$10$"), hash)

	pw := config.PasswordConfig{BcryptCost: 10}
	assert.True(t, pw.VerifyPassword("s3cret-admin", hash))
	assert.False(t, pw.VerifyPassword("wrong", hash))
}

func TestHashPasswordCommand_Errors(t *testing.T) {
	t.Run("invalid cost", func(t *testing.T) {
		t.Setenv("BCRYPT_COST", "40")
		_, err := execute(t, "hash-password", "s3cret-admin")
		assert.Error(t, err)
	})

	t.Run("too many arguments", func(t *testing.T) {
		_, err := execute(t, "hash-password", "a", "b")
		assert.Error(t, err)
	})
}
