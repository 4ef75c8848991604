package middleware

import (
	"net/http"
	"strings"

	"salesflow/internal/service"

	"github.com/gin-gonic/gin"
)

type TokenParser interface {
	ParseToken(token string) (*service.UserClaims, error)
}

// JWTMiddleware accepts a bearer token or, for EventSource clients that
// cannot set headers, a token query parameter.
func JWTMiddleware(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			scheme, token, ok := strings.Cut(authHeader, " ")
			if ok && scheme == "Bearer" {
				tokenString = token
			}
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		claims, err := parser.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{
			UserID: claims.UserID,
			Name:   claims.Username,
			Role:   claims.Role,

			TraceID: c.GetString(TraceIDKey),
			IP:      c.ClientIP(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
