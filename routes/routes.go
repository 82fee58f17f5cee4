package routes

import (
	"net/http"

	"sketchparty/handlers"
	"sketchparty/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func SetupRoutes(router *gin.Engine, roomHandler *handlers.RoomHandler, hub *services.Hub) {
	api := router.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			rooms.POST("", roomHandler.CreateRoom)
			rooms.GET("/:code", roomHandler.GetRoom)
			rooms.POST("/:code/join", roomHandler.JoinRoom)
			rooms.POST("/:code/leave", roomHandler.LeaveRoom)
			rooms.POST("/:code/kick", roomHandler.KickPlayer)
			rooms.POST("/:code/start", roomHandler.StartRound)
			rooms.GET("/:code/state", roomHandler.GetState)
			rooms.POST("/:code/guess", roomHandler.SubmitGuess)
			rooms.POST("/:code/ready", roomHandler.SetReady)
			rooms.POST("/:code/settings", roomHandler.UpdateFilters)
			rooms.GET("/:code/presence", roomHandler.GetPresence)
			rooms.GET("/:code/strokes", roomHandler.GetStrokes)
		}
	}

	// Realtime endpoint. Room membership is established by the game:join
	// message, not the URL, so one connection can be re-joined cleanly.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		hub.RegisterClient(conn)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
