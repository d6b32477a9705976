package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Alumnet/internal/db"
	"Alumnet/internal/model"
	"Alumnet/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ----------------------------------------------------------------
// In-memory fakes
// ----------------------------------------------------------------

type fakeConversations struct {
	mu      sync.Mutex
	byID    map[string]*model.Conversation
	touched map[string]time.Time
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{
		byID:    make(map[string]*model.Conversation),
		touched: make(map[string]time.Time),
	}
}

func (f *fakeConversations) add(conv model.Conversation) *model.Conversation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conv.ID.IsZero() {
		conv.ID = primitive.NewObjectID()
	}
	f.byID[conv.ID.Hex()] = &conv
	return &conv
}

func (f *fakeConversations) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}

func (f *fakeConversations) FindDirectByMembers(_ context.Context, memberIDs []string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.byID {
		if conv.Kind == model.KindDirect && sameSet(conv.MemberIDs, memberIDs) {
			copied := *conv
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeConversations) CreateDirect(_ context.Context, memberIDs []string) (*model.Conversation, error) {
	now := time.Now().UTC()
	return f.add(model.Conversation{
		Kind:           model.KindDirect,
		MemberIDs:      memberIDs,
		CreatedAt:      now,
		LastActivityAt: now,
	}), nil
}

func (f *fakeConversations) FindOrCreateTopicRoom(_ context.Context, kind, topicRef, userID string) (*model.Conversation, error) {
	if topicRef == "" {
		return nil, repo.ErrInvalidTopicRef
	}
	f.mu.Lock()
	for _, conv := range f.byID {
		if conv.Kind == kind && conv.TopicRef == topicRef {
			if !conv.HasMember(userID) {
				conv.MemberIDs = append(conv.MemberIDs, userID)
			}
			copied := *conv
			f.mu.Unlock()
			return &copied, nil
		}
	}
	f.mu.Unlock()
	now := time.Now().UTC()
	return f.add(model.Conversation{
		Kind:           kind,
		TopicRef:       topicRef,
		MemberIDs:      []string{userID},
		CreatedAt:      now,
		LastActivityAt: now,
	}), nil
}

func (f *fakeConversations) TouchActivity(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	if conv, ok := f.byID[id]; ok {
		conv.LastActivityAt = at
	}
	return nil
}

func (f *fakeConversations) ListForUser(_ context.Context, userID string, page, pageSize int64) (*db.PaginatedResult[model.Conversation], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Conversation
	for _, conv := range f.byID {
		if conv.HasMember(userID) {
			out = append(out, *conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return &db.PaginatedResult[model.Conversation]{
		Data:     out,
		Total:    int64(len(out)),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (f *fakeConversations) ListAllForUser(_ context.Context, userID string) ([]model.Conversation, error) {
	result, _ := f.ListForUser(context.Background(), userID, 1, 1000)
	return result.Data, nil
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (f *fakeMessages) Insert(_ context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, repo.ErrInvalidMessage
	}
	if !msg.HasContent() {
		return nil, repo.ErrEmptyMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *msg
	stored.ID = primitive.NewObjectID()
	f.msgs = append(f.msgs, stored)
	copied := stored
	return &copied, nil
}

func (f *fakeMessages) ListByConversation(_ context.Context, conversationID string, page, pageSize int64) (*db.PaginatedResult[model.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.msgs {
		if m.ConversationID.Hex() == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	total := int64(len(out))
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &db.PaginatedResult[model.Message]{
		Data:  out[start:end],
		Total: total,
	}, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, conversationID string, messageIDs []string, userID string) (int64, error) {
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var modified int64
	for i := range f.msgs {
		m := &f.msgs[i]
		if m.ConversationID.Hex() != conversationID {
			continue
		}
		if _, ok := wanted[m.ID.Hex()]; !ok {
			continue
		}
		already := false
		for _, r := range m.ReadBy {
			if r == userID {
				already = true
				break
			}
		}
		if !already {
			m.ReadBy = append(m.ReadBy, userID)
			modified++
		}
	}
	return modified, nil
}

func (f *fakeMessages) LastMessage(_ context.Context, conversationID string) (*model.Message, error) {
	page, err := f.ListByConversation(context.Background(), conversationID, 1, 1)
	if err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return &page.Data[0], nil
}

func (f *fakeMessages) CountUnread(_ context.Context, conversationID string, userID string) (int64, error) {
	return f.CountUnreadAcross(context.Background(), []string{conversationID}, userID)
}

func (f *fakeMessages) CountUnreadAcross(_ context.Context, conversationIDs []string, userID string) (int64, error) {
	in := make(map[string]struct{}, len(conversationIDs))
	for _, id := range conversationIDs {
		in[id] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, m := range f.msgs {
		if _, ok := in[m.ConversationID.Hex()]; !ok {
			continue
		}
		if m.SenderID == userID {
			continue
		}
		read := false
		for _, r := range m.ReadBy {
			if r == userID {
				read = true
				break
			}
		}
		if !read {
			count++
		}
	}
	return count, nil
}

type fakeNotifications struct {
	mu       sync.Mutex
	enqueued []model.Notification
}

func (f *fakeNotifications) EnqueueMany(_ context.Context, notifications []model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, notifications...)
	return nil
}

func (f *fakeNotifications) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.enqueued))
	for _, n := range f.enqueued {
		out = append(out, n.RecipientID)
	}
	return out
}

// fakeBroadcaster records fan-out calls and reports a fixed delivered set.
type fakeBroadcaster struct {
	mu        sync.Mutex
	delivered []string

	newMessages []model.Message
	readCalls   []string // actor ids
}

func (b *fakeBroadcaster) BroadcastNewMessage(_ *model.Conversation, msg *model.Message) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newMessages = append(b.newMessages, *msg)
	return b.delivered
}

func (b *fakeBroadcaster) BroadcastMessagesRead(_ *model.Conversation, actorID string, _ []string, _ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readCalls = append(b.readCalls, actorID)
}

// ----------------------------------------------------------------
// Fixture
// ----------------------------------------------------------------

type fixture struct {
	svc   *ChatService
	convs *fakeConversations
	msgs  *fakeMessages
	notes *fakeNotifications
	cast  *fakeBroadcaster
}

func newFixture() *fixture {
	f := &fixture{
		convs: newFakeConversations(),
		msgs:  &fakeMessages{},
		notes: &fakeNotifications{},
		cast:  &fakeBroadcaster{},
	}
	f.svc = NewChatService(f.convs, f.msgs, f.notes, zap.NewNop())
	f.svc.SetBroadcaster(f.cast)
	return f
}

func (f *fixture) dm(members ...string) *model.Conversation {
	now := time.Now().UTC()
	return f.convs.add(model.Conversation{
		Kind:           model.KindDirect,
		MemberIDs:      members,
		CreatedAt:      now,
		LastActivityAt: now,
	})
}

// ----------------------------------------------------------------
// Tests
// ----------------------------------------------------------------

func TestSendMessageRejectsNonMember(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	_, err := f.svc.SendMessage(context.Background(), "intruder", conv.ID.Hex(), "hi", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, f.msgs.msgs, "a rejected send must persist nothing")
	assert.Empty(t, f.notes.recipients())
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.SendMessage(context.Background(), "u1", primitive.NewObjectID().Hex(), "hi", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessageRejectsEmptyContent(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.msgs.msgs)
}

func TestSendMessageAcceptsAttachmentOnly(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	msg, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "", "https://cdn.example.com/pic.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/pic.png", msg.Attachment)
}

func TestSendMessagePersistsBroadcastsAndTouches(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	msg, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "hello", "")
	require.NoError(t, err)
	assert.False(t, msg.ID.IsZero(), "stored message must carry its assigned id")
	assert.Equal(t, "u1", msg.SenderID)

	require.Len(t, f.cast.newMessages, 1)
	assert.Equal(t, msg.ID, f.cast.newMessages[0].ID)

	_, touched := f.convs.touched[conv.ID.Hex()]
	assert.True(t, touched, "a send must bump conversation activity")
}

func TestSendMessageNotifiesOnlyUnreachedMembers(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2", "u3")
	f.cast.delivered = []string{"u2"} // u2 had a subscribed session

	_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "hello there", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"u3"}, f.notes.recipients(),
		"sender and delivered members get no notification")
	require.Len(t, f.notes.enqueued, 1)
	payload := f.notes.enqueued[0].Payload
	assert.Equal(t, conv.ID.Hex(), payload.ConversationID)
	assert.Equal(t, "u1", payload.SenderID)
	assert.Equal(t, "hello there", payload.Preview)
	assert.Equal(t, model.KindDirect, payload.ConversationKind)
}

func TestSendMessageNotificationPreviewTruncates(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")
	long := strings.Repeat("x", 300)

	_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), long, "")
	require.NoError(t, err)

	require.Len(t, f.notes.enqueued, 1)
	assert.Len(t, f.notes.enqueued[0].Payload.Preview, 100)
}

func TestSendMessageWithoutBroadcasterNotifiesEveryOtherMember(t *testing.T) {
	f := newFixture()
	f.svc.SetBroadcaster(nil)
	conv := f.dm("u1", "u2", "u3")

	_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "hi", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u2", "u3"}, f.notes.recipients())
}

func TestCreateDirectConversationDedup(t *testing.T) {
	f := newFixture()

	first, err := f.svc.CreateDirectConversation(context.Background(), "u1", []string{"u2"})
	require.NoError(t, err)

	t.Run("same unordered set returns existing", func(t *testing.T) {
		again, err := f.svc.CreateDirectConversation(context.Background(), "u2", []string{"u1", "u1"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
		assert.Len(t, f.convs.byID, 1)
	})

	t.Run("different set creates a new dm", func(t *testing.T) {
		other, err := f.svc.CreateDirectConversation(context.Background(), "u1", []string{"u3"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("self-only set is rejected", func(t *testing.T) {
		_, err := f.svc.CreateDirectConversation(context.Background(), "u1", []string{"u1", ""})
		assert.ErrorIs(t, err, repo.ErrInvalidMemberSet)
	})
}

func TestJoinTopicRoom(t *testing.T) {
	f := newFixture()

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, err := f.svc.JoinTopicRoom(context.Background(), model.KindDirect, "berlin", "u1")
		assert.ErrorIs(t, err, ErrBadKind)
	})

	t.Run("first join creates, later joins converge", func(t *testing.T) {
		room, err := f.svc.JoinTopicRoom(context.Background(), model.KindCity, "berlin", "u1")
		require.NoError(t, err)

		again, err := f.svc.JoinTopicRoom(context.Background(), model.KindCity, "berlin", "u2")
		require.NoError(t, err)
		assert.Equal(t, room.ID, again.ID)
		assert.ElementsMatch(t, []string{"u1", "u2"}, again.MemberIDs)

		rejoin, err := f.svc.JoinTopicRoom(context.Background(), model.KindCity, "berlin", "u1")
		require.NoError(t, err)
		assert.Len(t, rejoin.MemberIDs, 2, "rejoin must not duplicate membership")
	})
}

func TestMarkMessagesReadIsIdempotent(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	msg, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "hello", "")
	require.NoError(t, err)

	count, err := f.svc.MarkMessagesRead(context.Background(), "u2", conv.ID.Hex(), []string{msg.ID.Hex()}, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = f.svc.MarkMessagesRead(context.Background(), "u2", conv.ID.Hex(), []string{msg.ID.Hex()}, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "re-marking already-read messages modifies nothing")

	assert.Equal(t, []string{"u2", "u2"}, f.cast.readCalls)
}

func TestMarkMessagesReadRequiresMembership(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	_, err := f.svc.MarkMessagesRead(context.Background(), "intruder", conv.ID.Hex(), nil, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListMessagesChronologicalPage(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	for i := 0; i < 5; i++ {
		_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), fmt.Sprintf("msg-%d", i), "")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct sent_at
	}

	msgs, total, err := f.svc.ListMessages(context.Background(), "u2", conv.ID.Hex(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, msgs, 3)

	// Page 1 holds the newest three, reversed into chronological order.
	assert.Equal(t, "msg-2", msgs[0].Text)
	assert.Equal(t, "msg-3", msgs[1].Text)
	assert.Equal(t, "msg-4", msgs[2].Text)

	_, _, err = f.svc.ListMessages(context.Background(), "intruder", conv.ID.Hex(), 1, 10)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListConversationsDecoratesSummaries(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "first", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	last, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), "second", "")
	require.NoError(t, err)

	summaries, total, err := f.svc.ListConversations(context.Background(), "u2", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, last.ID, summaries[0].LastMessage.ID)
	assert.Equal(t, int64(2), summaries[0].UnreadCount)
}

func TestTotalUnreadAcrossConversations(t *testing.T) {
	f := newFixture()
	dm1 := f.dm("u1", "u2")
	dm2 := f.dm("u1", "u3")

	_, err := f.svc.SendMessage(context.Background(), "u2", dm1.ID.Hex(), "a", "")
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(context.Background(), "u3", dm2.ID.Hex(), "b", "")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), "u1", dm2.ID.Hex(), "own messages never count", "")
	require.NoError(t, err)

	total, err := f.svc.TotalUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, err = f.svc.MarkMessagesRead(context.Background(), "u1", dm2.ID.Hex(), []string{msg.ID.Hex()}, "")
	require.NoError(t, err)

	total, err = f.svc.TotalUnread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

// overlapDetectingConvs flags FindOrCreateTopicRoom calls that run while
// another call for the store is still in flight.
type overlapDetectingConvs struct {
	*fakeConversations
	inFlight int32
	overlaps int32
}

func (o *overlapDetectingConvs) FindOrCreateTopicRoom(ctx context.Context, kind, topicRef, userID string) (*model.Conversation, error) {
	if atomic.AddInt32(&o.inFlight, 1) > 1 {
		atomic.AddInt32(&o.overlaps, 1)
	}
	defer atomic.AddInt32(&o.inFlight, -1)
	time.Sleep(time.Millisecond) // widen the window a racing call would hit
	return o.fakeConversations.FindOrCreateTopicRoom(ctx, kind, topicRef, userID)
}

func TestJoinTopicRoomSerializesCreation(t *testing.T) {
	convs := &overlapDetectingConvs{fakeConversations: newFakeConversations()}
	svc := NewChatService(convs, &fakeMessages{}, &fakeNotifications{}, zap.NewNop())

	const n = 20
	results := make([]*model.Conversation, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := svc.JoinTopicRoom(context.Background(), model.KindCity, "berlin", fmt.Sprintf("u%d", i))
			assert.NoError(t, err)
			results[i] = conv
		}(i)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&convs.overlaps),
		"find-or-create for one topic ref must never run concurrently")
	require.Len(t, convs.byID, 1, "concurrent joins must converge on a single room")
	for _, conv := range results {
		require.NotNil(t, conv)
		assert.Equal(t, results[0].ID, conv.ID)
	}
}

func TestConcurrentSendsSameConversationAllPersist(t *testing.T) {
	f := newFixture()
	conv := f.dm("u1", "u2")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.SendMessage(context.Background(), "u1", conv.ID.Hex(), fmt.Sprintf("m%d", i), "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.msgs.msgs, n)
	assert.Len(t, f.cast.newMessages, n)
}
