package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Alumnet/internal/db"
	"Alumnet/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrInvalidMemberSet      = errors.New("invalid member set: a direct conversation needs at least two members")
	ErrInvalidTopicRef       = errors.New("invalid topic ref: cannot be empty")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second
)

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	FindDirectByMembers(ctx context.Context, memberIDs []string) (*model.Conversation, error)
	CreateDirect(ctx context.Context, memberIDs []string) (*model.Conversation, error)
	FindOrCreateTopicRoom(ctx context.Context, kind, topicRef, userID string) (*model.Conversation, error)
	TouchActivity(ctx context.Context, conversationID string, at time.Time) error
	ListForUser(ctx context.Context, userID string, page, pageSize int64) (*db.PaginatedResult[model.Conversation], error)
	ListAllForUser(ctx context.Context, userID string) ([]model.Conversation, error)
}

func NewConversationRepository(database *mongo.Database, logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: db.NewRepository[model.Conversation](database, "conversations"),
		logger:    logger,
	}
}

// GetByID fetches a conversation document by ID. Returns (nil, nil) when the
// document does not exist so callers can map absence to their own error.
func (r *conversationRepository) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return conv, nil
}

// FindDirectByMembers looks for a dm whose member set equals memberIDs
// exactly, order-insensitive. Returns (nil, nil) when no such dm exists.
func (r *conversationRepository) FindDirectByMembers(ctx context.Context, memberIDs []string) (*model.Conversation, error) {
	if len(memberIDs) < 2 {
		return nil, ErrInvalidMemberSet
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_type", model.KindDirect).
		ExactSet("member_ids", memberIDs).
		Build()

	conv, err := r.mongoRepo.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		r.logger.Error("failed to look up direct conversation", zap.Error(err))
		return nil, fmt.Errorf("failed to look up direct conversation: %w", err)
	}
	return conv, nil
}

// CreateDirect inserts a new dm with the given member set, preserving the
// caller's insertion order for display. Dedup against an existing identical
// set is the service's responsibility before calling this.
func (r *conversationRepository) CreateDirect(ctx context.Context, memberIDs []string) (*model.Conversation, error) {
	if len(memberIDs) < 2 {
		return nil, ErrInvalidMemberSet
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	conv := model.Conversation{
		Kind:           model.KindDirect,
		MemberIDs:      memberIDs,
		CreatedAt:      now,
		LastActivityAt: now,
	}

	result, err := r.mongoRepo.Create(ctx, conv)
	if err != nil {
		r.logger.Error("failed to create direct conversation", zap.Error(err))
		return nil, fmt.Errorf("failed to create direct conversation: %w", err)
	}
	if oid, ok := result.InsertedID.(interface{ Hex() string }); ok {
		created, err := r.mongoRepo.FindByID(ctx, oid.Hex())
		if err == nil {
			return created, nil
		}
	}
	return &conv, nil
}

// FindOrCreateTopicRoom upserts the single city/company room for topicRef
// and adds userID to its member set in the same atomic operation. Concurrent
// first joins for the same ref converge on one document.
func (r *conversationRepository) FindOrCreateTopicRoom(ctx context.Context, kind, topicRef, userID string) (*model.Conversation, error) {
	if topicRef == "" {
		return nil, ErrInvalidTopicRef
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	filter := db.NewFilter().
		Eq("conversation_type", kind).
		Eq("topic_ref", topicRef).
		Build()
	update := bson.M{
		"$addToSet":    bson.M{"member_ids": userID},
		"$setOnInsert": bson.M{"created_at": now, "last_activity_at": now},
	}

	conv, err := r.mongoRepo.FindOneAndUpsert(ctx, filter, update)
	if err != nil {
		r.logger.Error("failed to find-or-create topic room",
			zap.String("kind", kind),
			zap.String("topic_ref", topicRef),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to find-or-create topic room: %w", err)
	}
	return conv, nil
}

// TouchActivity bumps last_activity_at after a message lands.
func (r *conversationRepository) TouchActivity(ctx context.Context, conversationID string, at time.Time) error {
	if conversationID == "" {
		return ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := r.mongoRepo.UpdateByID(ctx, conversationID, bson.M{"last_activity_at": at})
	if err != nil {
		return fmt.Errorf("failed to touch conversation activity: %w", err)
	}
	return nil
}

// ListForUser pages through the conversations the user is a member of,
// most recently active first.
func (r *conversationRepository) ListForUser(ctx context.Context, userID string, page, pageSize int64) (*db.PaginatedResult[model.Conversation], error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("member_ids", userID).Build()

	result, err := r.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
		Page:     page,
		PageSize: pageSize,
		SortBy:   "last_activity_at",
		SortDesc: true,
	})
	if err != nil {
		r.logger.Error("failed to list conversations",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return result, nil
}

// ListAllForUser returns every conversation the user belongs to, unpaged.
// Used for the aggregate unread count.
func (r *conversationRepository) ListAllForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("member_ids", userID).Build()
	convs, err := r.mongoRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// NormalizeMemberSet drops empty and duplicate ids while preserving
// insertion order; the stored order is what the UI displays, set comparison
// happens order-insensitively in the query.
func NormalizeMemberSet(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
