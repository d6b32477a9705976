package hub

import (
	"Alumnet/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub *Hub
}

// NewMonitorService creates a new monitor service
func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connections := ms.getConnectionStats()
	rooms := ms.getRoomStats()
	presence := ms.getPresenceStats()

	status := "healthy"
	if connections.TotalSessions == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connections,
		Rooms:       rooms,
		Presence:    presence,
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	ms.hub.sessionsMu.RLock()
	defer ms.hub.sessionsMu.RUnlock()

	stats := model.ConnectionStats{
		TotalUsers: len(ms.hub.sessions),
	}
	for _, byID := range ms.hub.sessions {
		stats.TotalSessions += len(byID)
	}
	return stats
}

func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.mu.RLock()
		for room, subscribers := range bucket.rooms {
			stats.TotalRooms++
			stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
				Room:        room.String(),
				Subscribers: len(subscribers),
			})
		}
		bucket.mu.RUnlock()
	}
	return stats
}

func (ms *MonitorService) getPresenceStats() model.PresenceStats {
	stats := model.PresenceStats{}
	for _, rec := range ms.hub.presence.Snapshot() {
		switch rec.Status {
		case model.StatusOnline:
			stats.Online++
		case model.StatusOffline:
			stats.Offline++
		}
		if rec.Location != nil {
			stats.SharingLocation++
		}
	}
	return stats
}
