package model

// MonitorResponse is the hub statistics surface.
type MonitorResponse struct {
	Status      string          `json:"status"`
	Connections ConnectionStats `json:"connections"`
	Rooms       RoomStats       `json:"rooms"`
	Presence    PresenceStats   `json:"presence"`
}

// ConnectionStats counts live sessions and distinct connected users.
type ConnectionStats struct {
	TotalSessions int `json:"totalSessions"`
	TotalUsers    int `json:"totalUsers"`
}

// RoomStats describes the live subscriber sets.
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// RoomInfo is one room's live subscriber count.
type RoomInfo struct {
	Room        string `json:"room"`
	Subscribers int    `json:"subscribers"`
}

// PresenceStats summarizes the presence tracker.
type PresenceStats struct {
	Online          int `json:"online"`
	Offline         int `json:"offline"`
	SharingLocation int `json:"sharingLocation"`
}
