package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"Alumnet/internal/model"
	"Alumnet/internal/repo"

	"go.uber.org/zap"
)

// sendStripes sizes the per-conversation send serialization. Two sends to
// the same conversation always hash to the same stripe, so subscribers see
// one conversation's messages in persistence order.
const sendStripes = 64

// Broadcaster fans events out to currently connected sessions. The hub
// implements it; a nil broadcaster means no live fan-out (pure-batch mode,
// also how the service is unit tested).
type Broadcaster interface {
	// BroadcastNewMessage delivers a new_message event to every session
	// subscribed to the conversation room and returns the distinct user ids
	// that received it.
	BroadcastNewMessage(conv *model.Conversation, msg *model.Message) []string

	// BroadcastMessagesRead delivers a messages_read event to the room,
	// excluding the acting session.
	BroadcastMessagesRead(conv *model.Conversation, actorID string, messageIDs []string, originSessionID string)
}

// ChatService owns conversation and message semantics: membership
// authorization, dm dedup, topic-room find-or-create, message persistence
// and fan-out, read tracking, notification enqueueing. Both the websocket
// handlers and the REST handlers call into the same instance so the two
// surfaces cannot drift.
type ChatService struct {
	convs  repo.ConversationRepository
	msgs   repo.MessageRepository
	notes  repo.NotificationRepository
	logger *zap.Logger

	broadcaster Broadcaster
	sendLocks   [sendStripes]sync.Mutex
	topicLocks  [sendStripes]sync.Mutex
}

func NewChatService(convs repo.ConversationRepository, msgs repo.MessageRepository, notes repo.NotificationRepository, logger *zap.Logger) *ChatService {
	return &ChatService{
		convs:  convs,
		msgs:   msgs,
		notes:  notes,
		logger: logger,
	}
}

// SetBroadcaster wires the live fan-out after the hub exists. Called once
// from the container; not safe to call concurrently with sends.
func (s *ChatService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// GetConversationForMember loads a conversation and enforces membership
// against the durable member set.
func (s *ChatService) GetConversationForMember(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if !conv.HasMember(userID) {
		return nil, ErrUnauthorized
	}
	return conv, nil
}

// CreateDirectConversation finds-or-creates a dm for the exact member set
// {initiator} ∪ others. Two dms with the same unordered member set never
// coexist: an existing match is returned instead of a new insert.
func (s *ChatService) CreateDirectConversation(ctx context.Context, initiatorID string, otherIDs []string) (*model.Conversation, error) {
	members := repo.NormalizeMemberSet(append([]string{initiatorID}, otherIDs...))
	if len(members) < 2 {
		return nil, repo.ErrInvalidMemberSet
	}

	existing, err := s.convs.FindDirectByMembers(ctx, members)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.convs.CreateDirect(ctx, members)
}

// JoinTopicRoom idempotently finds-or-creates the single room for a city or
// company ref and persists the caller's membership on first join. Creation
// is serialized per (kind, ref) stripe: without a unique index the store's
// upsert is find-then-insert, so two unserialized first joins could each
// insert their own room.
func (s *ChatService) JoinTopicRoom(ctx context.Context, kind, topicRef, userID string) (*model.Conversation, error) {
	if kind != model.KindCity && kind != model.KindCompany {
		return nil, ErrBadKind
	}
	if topicRef == "" {
		return nil, repo.ErrInvalidTopicRef
	}

	lock := &s.topicLocks[stripeFor(kind+":"+topicRef)]
	lock.Lock()
	defer lock.Unlock()

	return s.convs.FindOrCreateTopicRoom(ctx, kind, topicRef, userID)
}

// SendMessage validates, persists and fans out one message. Membership is
// checked freshly against the durable member set; a member need not be
// subscribed to send. Broadcast happens only after a successful persist.
// Notification enqueueing for unsubscribed members is fire-and-forget.
func (s *ChatService) SendMessage(ctx context.Context, userID, conversationID, text, attachment string) (*model.Message, error) {
	lock := &s.sendLocks[stripeFor(conversationID)]
	lock.Lock()
	defer lock.Unlock()

	conv, err := s.GetConversationForMember(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if text == "" && attachment == "" {
		return nil, ErrValidation
	}

	msg := &model.Message{
		ConversationID: conv.ID,
		SenderID:       userID,
		Text:           text,
		Attachment:     attachment,
		SentAt:         time.Now().UTC(),
		ReadBy:         []string{},
	}

	stored, err := s.msgs.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}

	if err := s.convs.TouchActivity(ctx, conversationID, stored.SentAt); err != nil {
		// The message is durable; a missed activity bump only skews list
		// ordering until the next send.
		s.logger.Warn("failed to touch conversation activity",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}

	var delivered []string
	if s.broadcaster != nil {
		delivered = s.broadcaster.BroadcastNewMessage(conv, stored)
	}

	s.enqueueNotifications(conv, stored, delivered)
	return stored, nil
}

// MarkMessagesRead adds the caller to read_by on each message and notifies
// other subscribers. Idempotent: re-marking changes nothing and the
// returned count reflects only actual modifications.
func (s *ChatService) MarkMessagesRead(ctx context.Context, userID, conversationID string, messageIDs []string, originSessionID string) (int64, error) {
	conv, err := s.GetConversationForMember(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	count, err := s.msgs.MarkRead(ctx, conversationID, messageIDs, userID)
	if err != nil {
		return 0, err
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastMessagesRead(conv, userID, messageIDs, originSessionID)
	}
	return count, nil
}

// ListConversations pages the caller's conversations, most recently active
// first, decorated with last message and unread count.
func (s *ChatService) ListConversations(ctx context.Context, userID string, page, pageSize int64) ([]model.ConversationSummary, int64, error) {
	result, err := s.convs.ListForUser(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.ConversationSummary, 0, len(result.Data))
	for _, conv := range result.Data {
		summary := model.ConversationSummary{Conversation: conv}

		last, err := s.msgs.LastMessage(ctx, conv.ID.Hex())
		if err != nil {
			s.logger.Warn("failed to fetch last message",
				zap.String("conversation_id", conv.ID.Hex()),
				zap.Error(err),
			)
		} else {
			summary.LastMessage = last
		}

		unread, err := s.msgs.CountUnread(ctx, conv.ID.Hex(), userID)
		if err != nil {
			s.logger.Warn("failed to count unread",
				zap.String("conversation_id", conv.ID.Hex()),
				zap.Error(err),
			)
		} else {
			summary.UnreadCount = unread
		}

		summaries = append(summaries, summary)
	}
	return summaries, result.Total, nil
}

// ListMessages pages a conversation newest-first and reverses the page so
// clients render chronologically.
func (s *ChatService) ListMessages(ctx context.Context, userID, conversationID string, page, pageSize int64) ([]model.Message, int64, error) {
	if _, err := s.GetConversationForMember(ctx, conversationID, userID); err != nil {
		return nil, 0, err
	}

	result, err := s.msgs.ListByConversation(ctx, conversationID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	msgs := result.Data
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, result.Total, nil
}

// TotalUnread counts unacknowledged messages across all of the caller's
// conversations.
func (s *ChatService) TotalUnread(ctx context.Context, userID string) (int64, error) {
	convs, err := s.convs.ListAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID.Hex())
	}
	return s.msgs.CountUnreadAcross(ctx, ids, userID)
}

// enqueueNotifications queues one record per member who neither sent the
// message nor had a subscribed session at fan-out time. Failures are logged
// by the repository and never fail the send.
func (s *ChatService) enqueueNotifications(conv *model.Conversation, msg *model.Message, delivered []string) {
	reached := make(map[string]struct{}, len(delivered)+1)
	reached[msg.SenderID] = struct{}{}
	for _, id := range delivered {
		reached[id] = struct{}{}
	}

	var notifications []model.Notification
	for _, member := range conv.MemberIDs {
		if _, ok := reached[member]; ok {
			continue
		}
		notifications = append(notifications, model.Notification{
			RecipientID: member,
			Type:        model.NotificationTypeMessage,
			Payload: model.NotificationPayload{
				ConversationID:   conv.ID.Hex(),
				SenderID:         msg.SenderID,
				Preview:          model.MessagePreview(msg.Text),
				ConversationKind: conv.Kind,
			},
		})
	}
	if len(notifications) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.notes.EnqueueMany(ctx, notifications)
}

func stripeFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % sendStripes
}
