package configuration

import (
	"context"
	"fmt"
	"time"

	"Alumnet/internal/auth"
	"Alumnet/internal/db"
	"Alumnet/internal/handler"
	"Alumnet/internal/hub"
	"Alumnet/internal/repo"
	"Alumnet/internal/service"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	ChatHandler     handler.ChatHandler
	PresenceHandler handler.PresenceHandler
	MonitorHandler  handler.MonitorHandler
	Verifier        *auth.Verifier
	Hub             *hub.Hub
	Config          Config
	Logger          *zap.Logger

	// private - for cleanup
	mongoDB     *mongo.Database
	redisClient *redis.Client
	relayCancel context.CancelFunc
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	database, err := db.OpenConnection(config.Mongo.URI, config.Mongo.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	conversationRepo := repo.NewConversationRepository(database, logger)
	messageRepo := repo.NewMessageRepository(database, logger)
	notificationRepo := repo.NewNotificationRepository(database, logger)

	chatService := service.NewChatService(conversationRepo, messageRepo, notificationRepo, logger)

	verifier := auth.NewVerifier(config.JWT.Secret)
	h := hub.NewHub(verifier, hub.Options{
		AllowedOrigins: config.Server.AllowedOrigins,
		PresenceStale:  config.Presence.StaleAfter,
		PresenceSweep:  config.Presence.SweepEvery,
	}, logger)
	h.SetChatHandler(hub.NewChatHandler(h, chatService, logger))
	chatService.SetBroadcaster(h)

	container := &Container{
		ChatHandler:     handler.NewChatHandler(chatService),
		PresenceHandler: handler.NewPresenceHandler(h.Presence()),
		MonitorHandler:  handler.NewMonitorHandler(hub.NewMonitorService(h)),
		Verifier:        verifier,
		Hub:             h,
		Config:          *config,
		Logger:          logger,
		mongoDB:         database,
	}

	// Cross-instance relay is opt-in: no redis address, no relay.
	if config.Redis.Addr != "" {
		redisClient, err := db.OpenRedis(config.Redis.Addr, config.Redis.Password, config.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		bridge := hub.NewRelayBridge(redisClient, config.Redis.Channel, logger)
		h.SetBridge(bridge)

		relayCtx, cancel := context.WithCancel(context.Background())
		go bridge.Run(relayCtx, h)

		container.redisClient = redisClient
		container.relayCancel = cancel
	}

	return container, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.relayCancel != nil {
		c.relayCancel()
	}
	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoDB.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
