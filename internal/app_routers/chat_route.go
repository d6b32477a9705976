package approuters

import (
	"Alumnet/internal/auth"
	"Alumnet/internal/configuration"

	"github.com/gin-gonic/gin"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chatRoute := router.Group("/api/chat")
	chatRoute.Use(auth.Middleware(container.Verifier))
	{
		chatRoute.GET("/conversations", container.ChatHandler.ListConversations)
		chatRoute.POST("/conversations", container.ChatHandler.CreateConversation)
		chatRoute.GET("/conversations/:conversationId/messages", container.ChatHandler.ListMessages)
		chatRoute.POST("/conversations/:conversationId/messages", container.ChatHandler.SendMessage)
		chatRoute.POST("/messages/:messageId/read", container.ChatHandler.MarkMessageRead)
		chatRoute.GET("/unread-count", container.ChatHandler.UnreadCount)
	}
}

func PresenceRouters(router *gin.Engine, container *configuration.Container) {
	presenceRoute := router.Group("/api/presence")
	presenceRoute.Use(auth.Middleware(container.Verifier))
	{
		presenceRoute.GET("/online", container.PresenceHandler.OnlineUsers)
		presenceRoute.GET("/locations", container.PresenceHandler.Locations)
	}
}
