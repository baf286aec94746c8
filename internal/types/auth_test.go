//nolint:revive // types is a standard Go package name pattern
package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request LoginRequest
		wantErr bool
	}{
		{name: "valid", request: LoginRequest{Username: "admin", Password: "secret"}},
		{name: "missing username", request: LoginRequest{Password: "secret"}, wantErr: true},
		{name: "missing password", request: LoginRequest{Username: "admin"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestClarifyRequest_Validation(t *testing.T) {
	ok := ClarifyRequest{Pipeline: ArtifactBrochure}
	assert.NoError(t, ok.Validate())

	bad := ClarifyRequest{Pipeline: "newsletter"}
	assert.Error(t, bad.Validate())

	empty := ClarifyRequest{}
	assert.Error(t, empty.Validate())
}

func TestHandoffRequest_Validation(t *testing.T) {
	ok := HandoffRequest{AcceptReview: true, AcceptCorrections: []string{"uen"}}
	assert.NoError(t, ok.Validate())

	bad := HandoffRequest{AcceptCorrections: []string{""}}
	assert.Error(t, bad.Validate())
}
