package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/psds-microservice/live-session-service/internal/model"
)

const identityKey = "identity"

var (
	errNoToken      = errors.New("no token provided")
	errTokenFormat  = errors.New("invalid token format")
	errNoUserID     = errors.New("invalid or missing user id")
	errInvalidRole  = errors.New("invalid role")
	errBadSignature = errors.New("unexpected signing method")
)

// Auth verifies an HS256 bearer token and stores the caller identity in the gin context.
// The token is read from the Authorization header, or from ?token= for WebSocket upgrades where
// browsers cannot set headers.
func Auth(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		raw, err := extractToken(c)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		ident, err := ParseIdentity(raw, key)
		if err != nil {
			abortUnauthorized(c, err)
			return
		}
		c.Set(identityKey, ident)
		c.Next()
	}
}

// ParseIdentity validates the token (signature and exp) and maps its claims to an identity.
// User id comes from sub, user_id or id; name from name or user_name.
func ParseIdentity(raw string, key []byte) (model.Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errBadSignature, t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return model.Identity{}, err
	}

	userID := firstClaim(claims, "sub", "user_id", "id")
	if _, err := uuid.Parse(userID); err != nil {
		return model.Identity{}, errNoUserID
	}
	role := model.Role(strings.ToLower(firstClaim(claims, "role")))
	if !role.Valid() {
		return model.Identity{}, errInvalidRole
	}
	return model.Identity{
		UserID: userID,
		Role:   role,
		Name:   firstClaim(claims, "name", "user_name"),
	}, nil
}

// IdentityFrom returns the identity set by Auth.
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	ident, ok := v.(model.Identity)
	return ident, ok
}

func extractToken(c *gin.Context) (string, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		if tok := strings.TrimSpace(c.Query("token")); tok != "" {
			return tok, nil
		}
		return "", errNoToken
	}
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", errTokenFormat
	}
	return strings.Trim(fields[1], "\"'"), nil
}

func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := claims[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func abortUnauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized: " + err.Error(), "code": "unauthorized"})
}
