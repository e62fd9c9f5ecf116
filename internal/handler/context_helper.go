package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classroom-checkin-api/internal/middleware"
	"github.com/noah-isme/classroom-checkin-api/internal/models"
)

func identityFromContext(c *gin.Context) *models.Identity {
	return middleware.IdentityFromContext(c)
}
