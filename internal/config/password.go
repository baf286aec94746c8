package config

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// DefaultAdminUsername is used when ADMIN_USERNAME is not set.
const DefaultAdminUsername = "admin"

// PasswordConfig holds configuration for password hashing and verification.
type PasswordConfig struct {
	BcryptCost int
	Pepper     string // optional global secret appended before hashing
}

// NewPasswordConfig creates a new password configuration from environment variables.
// It reads BCRYPT_COST (default: 12) and optionally PASSWORD_PEPPER.
func NewPasswordConfig() (*PasswordConfig, error) {
	costStr := os.Getenv("BCRYPT_COST")
	if costStr == "" {
		costStr = "12"
	}

	cost, err := strconv.Atoi(costStr)
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %v", err)
	}

	config := &PasswordConfig{
		BcryptCost: cost,
		Pepper:     os.Getenv("PASSWORD_PEPPER"),
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *PasswordConfig) normalize() error {
	if c.BcryptCost < 10 || c.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be 10-14)", c.BcryptCost)
	}
	return nil
}

func (c *PasswordConfig) peppered(pw string) []byte {
	return []byte(pw + c.Pepper)
}

// HashPassword hashes a password using bcrypt (with optional pepper).
func (c *PasswordConfig) HashPassword(pw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(c.peppered(pw), c.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a stored hash (with optional pepper).
func (c *PasswordConfig) VerifyPassword(pw, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), c.peppered(pw)) == nil
}

// AdminConfig holds the single operator account allowed to obtain API tokens.
type AdminConfig struct {
	Username     string
	PasswordHash string
	Password     *PasswordConfig
}

// NewAdminConfig reads ADMIN_USERNAME (default: admin) and ADMIN_PASSWORD_HASH
// (required, a bcrypt hash produced by HashPassword).
func NewAdminConfig(pw *PasswordConfig) (*AdminConfig, error) {
	if pw == nil {
		return nil, fmt.Errorf("password config is required")
	}
	hash := os.Getenv("ADMIN_PASSWORD_HASH")
	if hash == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is required but not set")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
	}

	username := os.Getenv("ADMIN_USERNAME")
	if username == "" {
		username = DefaultAdminUsername
	}
	return &AdminConfig{Username: username, PasswordHash: hash, Password: pw}, nil
}

// Authenticate reports whether the credentials match the admin account.
func (a *AdminConfig) Authenticate(username, password string) bool {
	// Compare the hash even when the username is wrong.
	ok := a.Password.VerifyPassword(password, a.PasswordHash)
	return ok && username == a.Username
}
