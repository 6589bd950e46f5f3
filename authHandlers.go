package main

import (
	"net/http"
	"time"

	"bitbucket.org/dukalink/shop_backend/config"
	"bitbucket.org/dukalink/shop_backend/models"
	"bitbucket.org/dukalink/shop_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type loginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginHandler exchanges credentials for a bearer JWT plus a redis-backed
// session token (the `token` header the session middleware resolves).
func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var in loginInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}

		user, err := models.UserByUsername(config.GetDB(), in.Username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		if user.IsActive != nil && !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "account disabled"})
			return
		}
		if err := utils.ComparePassword(user.Password, in.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		email := ""
		if user.Email != nil {
			email = *user.Email
		}
		if email != "" && !utils.IsValidEmail(email) {
			// Legacy rows can carry junk emails; drop them from the claim rather
			// than propagate into payment identifiers.
			email = ""
		}

		jwtToken, err := utils.JwtGenerate(user.ID, email, string(user.Role))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		sessionToken := uuid.NewString()
		if err := config.SetRedisValue("Token:"+sessionToken, user.Username, 24*time.Hour); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":         jwtToken,
			"session_token": sessionToken,
			"user": gin.H{
				"id":       user.ID,
				"username": user.Username,
				"name":     user.Name,
				"role":     user.Role,
			},
		})
	}
}
