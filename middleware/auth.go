package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/julienschmidt/httprouter"
	"github.com/mentorpal/mentor-upload-api/errors"
)

// Roles carried in access tokens, in ascending order of privilege.
const (
	RoleUser                = "USER"
	RoleContentManager      = "CONTENT_MANAGER"
	RoleAdmin               = "ADMIN"
	RoleSuperContentManager = "SUPER_CONTENT_MANAGER"
	RoleSuperAdmin          = "SUPER_ADMIN"
)

// Claims is the access token payload issued by the auth service.
type Claims struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	MentorIDs []string `json:"mentorIds"`
	jwt.RegisteredClaims
}

// CanManageContent is required for operations touching mentors other than
// the caller's own, like imports and transfers.
func (c *Claims) CanManageContent() bool {
	switch c.Role {
	case RoleContentManager, RoleAdmin, RoleSuperContentManager, RoleSuperAdmin:
		return true
	}
	return false
}

// CanEditMentor allows owners of the mentor and content managers.
func (c *Claims) CanEditMentor(mentor string) bool {
	if c.CanManageContent() {
		return true
	}
	for _, id := range c.MentorIDs {
		if id == mentor {
			return true
		}
	}
	return false
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying the given claims, the same way
// IsAuthorized attaches them after verifying a token.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the authenticated claims attached by IsAuthorized, or
// nil on unauthenticated requests.
func ClaimsFrom(r *http.Request) *Claims {
	claims, _ := r.Context().Value(claimsKey{}).(*Claims)
	return claims
}

// IsAuthorized verifies the bearer token and attaches its claims to the
// request context. Per-mentor checks happen in the handlers once the target
// mentor is known.
func IsAuthorized(jwtSecret string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteHTTPUnauthorized(w, "No authorization header", nil)
			return
		}
		tokenString := strings.TrimPrefix(strings.TrimPrefix(authHeader, "Bearer "), "bearer ")

		claims, err := decodeToken(tokenString, jwtSecret)
		if err != nil {
			errors.WriteHTTPUnauthorized(w, "Invalid token", err)
			return
		}
		next(w, r.WithContext(WithClaims(r.Context(), claims)), ps)
	}
}

func decodeToken(tokenString, jwtSecret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to parse jwt: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
