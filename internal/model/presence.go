package model

import "time"

// Presence status values. There are no other states; busy/away variants from
// earlier iterations were dropped.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Location is a member's last shared position on the live map.
type Location struct {
	Lng       float64 `json:"lng"`
	Lat       float64 `json:"lat"`
	CityLabel string  `json:"cityLabel,omitempty"`
}

// PresenceRecord is the ephemeral per-user presence view. It is never
// persisted; the tracker rebuilds it from connection events.
type PresenceRecord struct {
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Location   *Location `json:"location,omitempty"`
}
