package auth

import "github.com/gin-gonic/gin"

// RegisterRoutes registers Auth routes
func RegisterRoutes(r *gin.RouterGroup, handler *Handler) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/challenge", handler.Challenge)
		authGroup.POST("/login", handler.Login)

		protected := authGroup.Group("", RequireWallet(handler.Service.Tokens()))
		protected.POST("/refresh", handler.Refresh)
		protected.GET("/me", handler.Me)
	}
}
