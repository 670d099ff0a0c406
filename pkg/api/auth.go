package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/apiresponses"
	"github.com/arbitra-ai/oversight/pkg/config"
)

const (
	// AuthHeaderKey is the request header carrying the reviewer bearer token.
	AuthHeaderKey = "Authorization"

	// ReviewerIDKey and ReviewerRolesKey are the gin context keys set by the
	// auth middleware for downstream handlers.
	ReviewerIDKey    = "reviewerId"
	ReviewerRolesKey = "roles"
)

// AuthHandler validates reviewer JWTs signed with a shared HMAC secret and
// attaches the reviewer identity to the request context. With no secret
// configured the middleware passes every request through unauthenticated;
// that mode exists for tests and local development only.
type AuthHandler struct {
	secret []byte
	issuer string
	log    *zap.SugaredLogger
}

// NewAuth builds the auth handler from config. The secret is resolved from
// the environment via cfg.Auth.SecretEnv.
func NewAuth(log *zap.SugaredLogger, cfg config.Config) *AuthHandler {
	secret := cfg.Auth.AuthSecret()
	if secret == "" {
		log.Warn("Reviewer auth secret not configured; API auth is DISABLED (dev only)")
	}
	return &AuthHandler{
		secret: []byte(secret),
		issuer: cfg.Auth.Issuer,
		log:    log,
	}
}

// Enabled reports whether bearer tokens are being validated.
func (a *AuthHandler) Enabled() bool {
	return len(a.secret) > 0
}

// Middleware returns the gin middleware enforcing reviewer authentication.
func (a *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if !a.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader(AuthHeaderKey)
		// delete the header to avoid logging it by accident
		c.Request.Header.Del(AuthHeaderKey)
		if !strings.HasPrefix(authHeader, "Bearer ") {
			apiresponses.RespondBadRequest(c, "no Bearer token provided in Authorization header")
			c.Abort()
			return
		}
		bearer := authHeader[7:]

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(bearer, &claims, a.keyfunc)
		if err != nil || !token.Valid {
			if err == nil {
				err = errors.New("token invalid")
			}
			apiresponses.RespondUnauthorized(c, err.Error())
			c.Abort()
			return
		}

		if a.issuer != "" {
			if iss, _ := claims["iss"].(string); iss != a.issuer {
				apiresponses.RespondUnauthorized(c, "unexpected token issuer")
				c.Abort()
				return
			}
		}

		c.Set(ReviewerIDKey, reviewerID(claims))
		if roles := extractRoles(claims); len(roles) > 0 {
			c.Set(ReviewerRolesKey, roles)
		}

		c.Next()
	}
}

func (a *AuthHandler) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return a.secret, nil
}

// reviewerID prefers preferred_username over the opaque subject.
func reviewerID(claims jwt.MapClaims) string {
	if username, _ := claims["preferred_username"].(string); username != "" {
		return username
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// extractRoles reads the flat "roles" claim, deduplicated and trimmed.
func extractRoles(claims jwt.MapClaims) []string {
	raw, ok := claims["roles"]
	if !ok {
		return nil
	}

	var roles []string
	switch rs := raw.(type) {
	case []interface{}:
		for _, v := range rs {
			if s, ok := v.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
	case []string:
		roles = append(roles, rs...)
	}

	seen := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, exists := seen[r]; exists {
			continue
		}
		seen[r] = struct{}{}
		normalized = append(normalized, r)
	}
	return normalized
}
