package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, h *Handlers, wsHub *WebSocketHub) {
	router.Use(CORSMiddleware())

	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		devices := api.Group("/devices")
		{
			devices.GET("", h.GetDevices)
			devices.POST("/refresh", h.RefreshDevices)
			devices.POST("/top/:index", h.TopDevice)
			devices.PATCH("/:id", h.EditDevice)
			devices.DELETE("/:id", h.DeleteDevice)
			devices.PUT("/:id/setting", h.UpdateSetting)
			devices.POST("/:id/mirror", h.ToggleMirror)
		}

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.UpdateSettings)
	}

	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(wsHub, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
