// Package types provides type definitions for structured data used throughout the courseware pipeline.
package types

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// LoginRequest represents the admin login request.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ClarifyRequest picks a pipeline for a run awaiting clarification.
type ClarifyRequest struct {
	Pipeline ArtifactType `json:"pipeline" validate:"required,oneof=course_proposal assessment_set courseware_suite brochure verification_only"`
}

// HandoffRequest carries the caller's acceptance decisions.
type HandoffRequest struct {
	AcceptReview      bool     `json:"accept_review"`
	AcceptCorrections []string `json:"accept_corrections,omitempty" validate:"dive,required"`
}

// Validate validates the LoginRequest using the validator.
func (r *LoginRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the ClarifyRequest using the validator.
func (r *ClarifyRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// Validate validates the HandoffRequest using the validator.
func (r *HandoffRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}
