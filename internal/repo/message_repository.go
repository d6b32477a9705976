package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Alumnet/internal/db"
	"Alumnet/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage   = errors.New("invalid message: message cannot be nil")
	ErrEmptyMessage     = errors.New("invalid message: neither text nor attachment present")
	ErrInvalidMessageID = errors.New("invalid message ID: malformed id")
)

const (
	maxInsertRetries = 3
	baseRetryDelay   = 100 * time.Millisecond
)

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

type MessageRepository interface {
	Insert(ctx context.Context, msg *model.Message) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationID string, page, pageSize int64) (*db.PaginatedResult[model.Message], error)
	MarkRead(ctx context.Context, conversationID string, messageIDs []string, userID string) (int64, error)
	LastMessage(ctx context.Context, conversationID string) (*model.Message, error)
	CountUnread(ctx context.Context, conversationID string, userID string) (int64, error)
	CountUnreadAcross(ctx context.Context, conversationIDs []string, userID string) (int64, error)
}

func NewMessageRepository(database *mongo.Database, logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: db.NewRepository[model.Message](database, "messages"),
		logger:    logger,
	}
}

// Insert persists a message, retrying transient store errors. The returned
// message carries the assigned ObjectID.
func (m *messageRepository) Insert(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if msg.ConversationID.IsZero() {
		return nil, ErrInvalidConversationID
	}
	if !msg.HasContent() {
		return nil, ErrEmptyMessage
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			m.logger.Warn("retrying message insert",
				zap.String("conversation_id", msg.ConversationID.Hex()),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			stored := *msg
			if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
				stored.ID = oid
			}
			return &stored, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	m.logger.Error("failed to insert message",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID.Hex()),
	)
	return nil, fmt.Errorf("insert message failed: %w", lastErr)
}

// ListByConversation pages through a conversation's messages newest-first;
// the service reverses each page for chronological display.
func (m *messageRepository) ListByConversation(ctx context.Context, conversationID string, page, pageSize int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	fb := db.NewFilter().ObjectID("conversation_id", conversationID)
	if fb.Err() != nil {
		return nil, ErrInvalidConversationID
	}

	result, err := m.mongoRepo.FindWithPagination(ctx, fb.Build(), db.PaginationParams{
		Page:     page,
		PageSize: pageSize,
		SortBy:   "sent_at",
		SortDesc: true,
	})
	if err != nil {
		m.logger.Error("failed to list messages",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return result, nil
}

// MarkRead adds userID to read_by on each listed message of the
// conversation. $addToSet makes re-marking a no-op; the returned count is
// the number of messages actually modified.
func (m *messageRepository) MarkRead(ctx context.Context, conversationID string, messageIDs []string, userID string) (int64, error) {
	if conversationID == "" {
		return 0, ErrInvalidConversationID
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	fb := db.NewFilter().ObjectID("conversation_id", conversationID)
	if fb.Err() != nil {
		return 0, ErrInvalidConversationID
	}
	fb.ObjectIDs("_id", messageIDs)
	if fb.Err() != nil {
		return 0, ErrInvalidMessageID
	}
	update := bson.M{"$addToSet": bson.M{"read_by": userID}}

	result, err := m.mongoRepo.UpdateMany(ctx, fb.Build(), update)
	if err != nil {
		m.logger.Error("failed to mark messages read",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return result.ModifiedCount, nil
}

// LastMessage returns the newest message in a conversation, or (nil, nil)
// for an empty conversation.
func (m *messageRepository) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	fb := db.NewFilter().ObjectID("conversation_id", conversationID)
	if fb.Err() != nil {
		return nil, ErrInvalidConversationID
	}
	page, err := m.mongoRepo.FindWithPagination(ctx, fb.Build(), db.PaginationParams{
		Page:     1,
		PageSize: 1,
		SortBy:   "sent_at",
		SortDesc: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch last message: %w", err)
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return &page.Data[0], nil
}

// CountUnread counts messages in the conversation not yet acknowledged by
// userID and not sent by them.
func (m *messageRepository) CountUnread(ctx context.Context, conversationID string, userID string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	fb := db.NewFilter().
		ObjectID("conversation_id", conversationID).
		Ne("sender_id", userID).
		Ne("read_by", userID)
	if fb.Err() != nil {
		return 0, ErrInvalidConversationID
	}
	return m.mongoRepo.Count(ctx, fb.Build())
}

// CountUnreadAcross totals unread messages over a set of conversations.
func (m *messageRepository) CountUnreadAcross(ctx context.Context, conversationIDs []string, userID string) (int64, error) {
	if len(conversationIDs) == 0 {
		return 0, nil
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	fb := db.NewFilter().
		ObjectIDs("conversation_id", conversationIDs).
		Ne("sender_id", userID).
		Ne("read_by", userID)
	if fb.Err() != nil {
		return 0, ErrInvalidConversationID
	}
	return m.mongoRepo.Count(ctx, fb.Build())
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
