package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTAuthorizer treats the principal as a signed JWT and authorizes
// actions against the token's "scopes" claim.
type JWTAuthorizer struct {
	secret []byte
	logger *zap.Logger
}

// NewJWTAuthorizer creates an authorizer validating HMAC-signed tokens.
func NewJWTAuthorizer(secret []byte, logger *zap.Logger) *JWTAuthorizer {
	return &JWTAuthorizer{
		secret: secret,
		logger: logger.With(zap.String("component", "jwt_authorizer")),
	}
}

// claims is the expected token payload.
type claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Authorize implements Authorizer. The token must be valid, unexpired,
// and carry the requested action in its scopes claim.
func (a *JWTAuthorizer) Authorize(_ context.Context, principal string, action Action, resourceID string) bool {
	var c claims
	token, err := jwt.ParseWithClaims(principal, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		a.logger.Debug("token rejected",
			zap.String("action", string(action)),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return false
	}

	for _, scope := range c.Scopes {
		if scope == string(action) {
			return true
		}
	}
	return false
}
