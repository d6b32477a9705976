package hub

import (
	"context"
	"encoding/json"
	"time"

	"Alumnet/internal/event"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// relayEnvelope wraps an event for the cross-instance channel. Room is the
// wire-form room id, empty for a global broadcast. Origin filters out an
// instance's own publications on the way back in.
type relayEnvelope struct {
	Origin string        `json:"origin"`
	Room   string        `json:"room,omitempty"`
	Event  event.WsEvent `json:"event"`
}

// RelayBridge mirrors hub broadcasts over a redis pub/sub channel so that a
// multi-instance deployment delivers events to sessions connected to peer
// instances. Subscriber sets and presence stay instance-local; Mongo
// remains the durable source of truth. A nil bridge means single-instance.
type RelayBridge struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

func NewRelayBridge(client *redis.Client, channel string, logger *zap.Logger) *RelayBridge {
	if channel == "" {
		channel = "alumnet:events"
	}
	return &RelayBridge{
		client:  client,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  logger,
	}
}

// Publish mirrors one broadcast to peer instances. Best-effort: a publish
// failure is logged, local delivery already happened.
func (b *RelayBridge) Publish(room string, ev event.WsEvent) {
	raw, err := json.Marshal(relayEnvelope{
		Origin: b.origin,
		Room:   room,
		Event:  ev,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.logger.Warn("relay publish failed", zap.Error(err))
	}
}

// Run consumes peer broadcasts until the context ends, re-emitting each into
// the local hub. The hub's local delivery paths never republish, so events
// cannot loop.
func (b *RelayBridge) Run(ctx context.Context, h *Hub) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(h, msg.Payload)
		}
	}
}

func (b *RelayBridge) handle(h *Hub, payload string) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("malformed relay envelope", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}

	if env.Room == "" {
		h.broadcastAllLocal(env.Event)
		return
	}
	room, err := ParseRoomID(env.Room)
	if err != nil {
		b.logger.Warn("relay envelope with bad room", zap.String("room", env.Room))
		return
	}
	h.broadcastRoomLocal(room, env.Event, "")
}
