package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
)

// Identity is presented to the push channel during the handshake.
type Identity struct {
	UserID string
	Role   string
	Token  string
}

// Validate checks that the identity can be used for a handshake.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.UserID) == "" || strings.TrimSpace(i.Token) == "" {
		return apperrors.ErrIdentityRequired
	}
	return nil
}

// String never includes the token.
func (i Identity) String() string {
	return fmt.Sprintf("Identity{UserID: %s, Role: %s, Token: [REDACTED]}", i.UserID, i.Role)
}
