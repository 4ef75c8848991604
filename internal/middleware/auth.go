package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecretTokenHeader carries the secret Telegram was given in setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

type SecretChecker interface {
	CheckSecret(provided string) error
}

// WebhookSecretMiddleware rejects deliveries without the shared secret
// before the body is read.
func WebhookSecretMiddleware(checker SecretChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checker.CheckSecret(c.GetHeader(SecretTokenHeader)); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
