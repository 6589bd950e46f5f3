package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates a bearer JWT and stashes the claims on the request
// context. Requests without an Authorization header pass through; handlers
// that require identity check the context themselves.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		auth = strings.TrimPrefix(auth, "Bearer ")

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), claim.ID)
		ctx = utils.SetUserEmailInContext(ctx, claim.Email)
		ctx = utils.SetIsAdminInContext(ctx, claim.Role == string(models.UserRoleAdmin))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
