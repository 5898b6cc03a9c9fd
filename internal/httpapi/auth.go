package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxKeyRecipient = "recipient_id"
	ctxKeyScopes    = "token_scopes"
	tokenIssuer     = "trackerd"
)

// ScopeService grants access to the /internal routes (dispatch, manual
// sweep, mail test). Plain user tokens carry no scopes.
const ScopeService = "service"

// Claims are the bearer token claims. UserID names the notification
// recipient.
type Claims struct {
	jwt.RegisteredClaims
	UserID string   `json:"user_id"`
	Scopes []string `json:"scopes,omitempty"`
}

// GenerateToken signs an HS256 token for userID valid for ttl, granting
// scopes.
func GenerateToken(secret, userID string, ttl time.Duration, scopes ...string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID: userID,
		Scopes: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// JWTAuth rejects requests without a valid bearer token and stores the
// token's user id for RecipientID.
func JWTAuth(secret string) gin.HandlerFunc {
	keyFn := func(*jwt.Token) (any, error) { return []byte(secret), nil }
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, keyFn,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || strings.TrimSpace(claims.UserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxKeyRecipient, claims.UserID)
		c.Set(ctxKeyScopes, claims.Scopes)
		c.Next()
	}
}

// RequireScope answers 403 unless the token checked by JWTAuth carries
// scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, _ := c.Get(ctxKeyScopes)
		if granted, ok := scopes.([]string); ok && slices.Contains(granted, scope) {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token lacks scope " + scope})
	}
}

// RecipientID returns the authenticated user id, or "" outside JWTAuth.
func RecipientID(c *gin.Context) string {
	return c.GetString(ctxKeyRecipient)
}
