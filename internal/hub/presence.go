package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"Alumnet/internal/event"
	"Alumnet/internal/model"

	"go.uber.org/zap"
)

const (
	defaultStaleAfter = 5 * time.Minute
	defaultSweepEvery = time.Minute
)

// ErrLocationNotShared rejects location updates from members who have not
// opted in to the live map.
var ErrLocationNotShared = errors.New("location sharing not enabled")

// PresenceTracker is the ephemeral per-principal presence store: online
// status, last-seen time and opted-in live-map positions. State is
// instance-local and rebuilt from connection events; nothing here touches
// the database. Transitions broadcast to every connected session.
type PresenceTracker struct {
	mu            sync.RWMutex
	records       map[string]*model.PresenceRecord
	locationOptIn map[string]bool

	broadcast  func(event.WsEvent)
	staleAfter time.Duration
	sweepEvery time.Duration
	logger     *zap.Logger
}

func NewPresenceTracker(broadcast func(event.WsEvent), staleAfter, sweepEvery time.Duration, logger *zap.Logger) *PresenceTracker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}
	return &PresenceTracker{
		records:       make(map[string]*model.PresenceRecord),
		locationOptIn: make(map[string]bool),
		broadcast:     broadcast,
		staleAfter:    staleAfter,
		sweepEvery:    sweepEvery,
		logger:        logger,
	}
}

// Track records the principal's live-map opt-in, carried on the session's
// claims at connect time.
func (t *PresenceTracker) Track(userID string, allowLocation bool) {
	t.mu.Lock()
	t.locationOptIn[userID] = allowLocation
	t.mu.Unlock()
}

// SetOnline transitions the principal to online. Idempotent: an already
// online principal only gets its last-seen refreshed, no duplicate
// broadcast.
func (t *PresenceTracker) SetOnline(userID string) {
	now := time.Now().UTC()

	t.mu.Lock()
	rec, ok := t.records[userID]
	if ok && rec.Status == model.StatusOnline {
		rec.LastSeenAt = now
		t.mu.Unlock()
		return
	}
	if !ok {
		rec = &model.PresenceRecord{UserID: userID}
		t.records[userID] = rec
	}
	rec.Status = model.StatusOnline
	rec.LastSeenAt = now
	t.mu.Unlock()

	t.broadcast(event.New(event.EventUserStatusChanged, event.StatusChangedPayload{
		UserID:     userID,
		Status:     model.StatusOnline,
		LastSeenAt: now,
	}))
}

// SetOffline transitions the principal to offline and drops its shared
// location. Idempotent; unknown principals are a no-op.
func (t *PresenceTracker) SetOffline(userID string) {
	now := time.Now().UTC()

	t.mu.Lock()
	rec, ok := t.records[userID]
	if !ok || rec.Status == model.StatusOffline {
		t.mu.Unlock()
		return
	}
	rec.Status = model.StatusOffline
	rec.LastSeenAt = now
	rec.Location = nil
	t.mu.Unlock()

	t.broadcast(event.New(event.EventUserStatusChanged, event.StatusChangedPayload{
		UserID:     userID,
		Status:     model.StatusOffline,
		LastSeenAt: now,
	}))
}

// Touch refreshes last-seen without a transition. Driven by pong receipt.
func (t *PresenceTracker) Touch(userID string) {
	t.mu.Lock()
	if rec, ok := t.records[userID]; ok && rec.Status == model.StatusOnline {
		rec.LastSeenAt = time.Now().UTC()
	}
	t.mu.Unlock()
}

// UpdateLocation updates the principal's live-map position and broadcasts
// it. Fails for principals who have not opted in.
func (t *PresenceTracker) UpdateLocation(userID string, loc model.Location) error {
	now := time.Now().UTC()

	t.mu.Lock()
	if !t.locationOptIn[userID] {
		t.mu.Unlock()
		return ErrLocationNotShared
	}
	rec, ok := t.records[userID]
	if !ok {
		rec = &model.PresenceRecord{UserID: userID, Status: model.StatusOnline}
		t.records[userID] = rec
	}
	rec.Location = &loc
	rec.LastSeenAt = now
	t.mu.Unlock()

	t.broadcast(event.New(event.EventUserLocationUpdated, event.LocationUpdatedPayload{
		UserID:   userID,
		Location: loc,
	}))
	return nil
}

// Snapshot copies the current records for "who is online" queries.
func (t *PresenceTracker) Snapshot() []model.PresenceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.PresenceRecord, 0, len(t.records))
	for _, rec := range t.records {
		copied := *rec
		if rec.Location != nil {
			loc := *rec.Location
			copied.Location = &loc
		}
		out = append(out, copied)
	}
	return out
}

// Online returns only the currently online records.
func (t *PresenceTracker) Online() []model.PresenceRecord {
	all := t.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if rec.Status == model.StatusOnline {
			out = append(out, rec)
		}
	}
	return out
}

// Run sweeps for stale records until the context ends. A session that died
// without a clean close stops refreshing last-seen and gets forced offline
// within one sweep interval.
func (t *PresenceTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(time.Now().UTC())
		}
	}
}

func (t *PresenceTracker) sweep(now time.Time) {
	var stale []event.StatusChangedPayload

	t.mu.Lock()
	for userID, rec := range t.records {
		if rec.Status != model.StatusOnline {
			continue
		}
		if now.Sub(rec.LastSeenAt) <= t.staleAfter {
			continue
		}
		rec.Status = model.StatusOffline
		rec.Location = nil
		stale = append(stale, event.StatusChangedPayload{
			UserID:     userID,
			Status:     model.StatusOffline,
			LastSeenAt: rec.LastSeenAt,
		})
	}
	t.mu.Unlock()

	for _, payload := range stale {
		t.logger.Info("presence sweep forced offline", zap.String("user_id", payload.UserID))
		t.broadcast(event.New(event.EventUserStatusChanged, payload))
	}
}
