package repo

import (
	"context"
	"fmt"
	"time"

	"Alumnet/internal/db"
	"Alumnet/internal/model"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type notificationRepository struct {
	mongoRepo *db.Repository[model.Notification]
	logger    *zap.Logger
}

type NotificationRepository interface {
	EnqueueMany(ctx context.Context, notifications []model.Notification) error
}

func NewNotificationRepository(database *mongo.Database, logger *zap.Logger) NotificationRepository {
	return &notificationRepository{
		mongoRepo: db.NewRepository[model.Notification](database, "notifications"),
		logger:    logger,
	}
}

// EnqueueMany inserts one notification per offline recipient. Callers treat
// this as fire-and-forget; a failure must never fail the message send.
func (n *notificationRepository) EnqueueMany(ctx context.Context, notifications []model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	for i := range notifications {
		if notifications[i].CreatedAt.IsZero() {
			notifications[i].CreatedAt = now
		}
	}

	if _, err := n.mongoRepo.CreateMany(ctx, notifications); err != nil {
		n.logger.Error("failed to enqueue notifications",
			zap.Int("count", len(notifications)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to enqueue notifications: %w", err)
	}
	return nil
}
