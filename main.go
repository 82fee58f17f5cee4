package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sketchparty/config"
	"sketchparty/handlers"
	"sketchparty/middleware"
	"sketchparty/models"
	"sketchparty/routes"
	"sketchparty/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg := config.Load()

	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := db.AutoMigrate(&models.Room{}, &models.RoomPlayer{}); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	redisClient := config.InitRedis(cfg)
	kv := services.NewRedisKV(redisClient)

	var events services.EventQueue
	natsQueue, err := services.NewNatsEventQueue(cfg.NatsURL)
	if err != nil {
		log.Warn().Err(err).Msg("event queue unavailable, continuing without telemetry")
		events = services.NoopEventQueue{}
	} else {
		events = natsQueue
	}

	roomStore := services.NewRoomStore(db)
	tokenService := services.NewTokenService(cfg.JWTSecret, 12*time.Hour)
	presenceTracker := services.NewPresenceTracker(kv)
	strokeHistory := services.NewStrokeHistory(kv, cfg.StrokeHistoryLimit)
	gameState := services.NewGameStateManager(kv, cfg.DrawDuration, cfg.Prompts)

	hub := services.NewHub(roomStore, presenceTracker, gameState, strokeHistory, tokenService, events)
	gameState.SetNotifier(hub)
	go hub.Run()

	roomHandler := handlers.NewRoomHandler(roomStore, gameState, presenceTracker, strokeHistory, tokenService, events, hub)

	router := gin.Default()
	router.Use(middleware.CORS())
	routes.SetupRoutes(router, roomHandler, hub)

	server := &http.Server{
		Addr:    cfg.BindAddress + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	gameState.Close()
	events.Close()
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close redis client")
	}
}
