package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
)

// Claims defines the structured data carried by access tokens of the
// platform. Older tokens only carry the user in "sub" and roles in "scope".
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	TeamID string `json:"teamId,omitempty"`
	Scope  string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves the user id and primary role from the claims.
func (c *Claims) Identity(token string) domain.Identity {
	userID := c.UserID
	if userID == "" {
		userID = c.Subject
	}
	role := c.Role
	if role == "" {
		role = roleFromScope(c.Scope)
	}
	return domain.Identity{UserID: userID, Role: role, Token: token}
}

// roleFromScope picks the first ROLE_ entry of a space separated scope.
func roleFromScope(scope string) string {
	for _, part := range strings.Fields(scope) {
		if role, ok := strings.CutPrefix(part, "ROLE_"); ok {
			return role
		}
	}
	return ""
}

// IdentityFromToken reads the identity from a token without verifying its
// signature. The push channel and the REST backends verify the token; the
// client only needs to know who it is.
func IdentityFromToken(token string) (domain.Identity, *Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return domain.Identity{}, nil, err
	}
	identity := claims.Identity(token)
	if identity.UserID == "" {
		return domain.Identity{}, nil, errors.New("token carries no user id")
	}
	return identity, claims, nil
}

type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenManager{secretKey: []byte(secret), ttl: ttl}
}

// GenerateToken creates a new signed access token
func (tm *TokenManager) GenerateToken(userID, role, teamID string) (string, error) {
	expirationTime := time.Now().Add(tm.ttl)
	claims := &Claims{
		UserID: userID,
		Role:   role,
		TeamID: teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken parses and validates the token string
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
