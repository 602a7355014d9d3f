// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file binds the authenticated principal for REST routes. The bearer
// token is verified once per request and the resulting typed principal is
// stored in the Gin context; handlers read it back with PrincipalFrom and
// never re-derive identity from anything the client sent in the body.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haechan419/smartspend-chat/internal/auth"
)

// principalKey is the Gin context key holding the bound auth.Principal.
const principalKey = "principal"

// Authenticate verifies the Authorization bearer token and binds the
// principal. Requests without a valid token are refused with 401 before any
// handler runs.
func Authenticate(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := v.FromBearer(c.GetHeader("Authorization"))
		if err != nil {
			rid, _ := c.Get(requestIDKey)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": asString(rid),
				"code":       "unauthorized",
				"message":    "invalid or missing token",
			})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom returns the principal bound by Authenticate.
func PrincipalFrom(c *gin.Context) (auth.Principal, bool) {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p, true
		}
	}
	return auth.Principal{}, false
}

// UserIDFrom returns just the bound user id, for logging and rate limiting.
func UserIDFrom(c *gin.Context) (int64, bool) {
	p, ok := PrincipalFrom(c)
	return p.UserID, ok
}
