package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/courseware-agent/internal/types"
)

// handleToken exchanges admin credentials for a bearer token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.errorFrom(w, validationError(err))
		return
	}

	if !s.admin.Authenticate(req.Username, req.Password) {
		s.errorFrom(w, &ErrInvalidCredentials{})
		return
	}

	token, expiresAt, err := s.jwtService.GenerateToken(req.Username)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	s.jsonResponse(w, http.StatusOK, types.LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// validationError converts validator errors into an *ErrValidation for the
// first failing field.
func validationError(err error) error {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &ErrValidation{Field: fe.Field(), Message: fmt.Sprintf("failed %q", fe.Tag())}
	}
	return &ErrValidation{Field: "request", Message: err.Error()}
}
