package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"Alumnet/internal/hub"
	"Alumnet/internal/model"

	"github.com/gin-gonic/gin"
)

// PresenceHandler answers "who is online" and live-map queries from the
// tracker's in-memory snapshot; the database is never touched.
type PresenceHandler interface {
	OnlineUsers(c *gin.Context)
	Locations(c *gin.Context)
}

type presenceHandler struct {
	tracker *hub.PresenceTracker
}

func NewPresenceHandler(tracker *hub.PresenceTracker) PresenceHandler {
	return &presenceHandler{tracker: tracker}
}

func (h *presenceHandler) OnlineUsers(c *gin.Context) {
	online := h.tracker.Online()
	c.JSON(http.StatusOK, gin.H{
		"users": online,
		"count": len(online),
	})
}

// Locations filters shared positions by optional city label and geographic
// bounds ("south,west,north,east").
func (h *presenceHandler) Locations(c *gin.Context) {
	cityFilter := strings.ToLower(c.Query("city"))
	bounds, hasBounds, err := parseBounds(c.Query("bounds"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed bounds, expected south,west,north,east"})
		return
	}

	var out []model.PresenceRecord
	for _, rec := range h.tracker.Online() {
		if rec.Location == nil {
			continue
		}
		if cityFilter != "" && !strings.Contains(strings.ToLower(rec.Location.CityLabel), cityFilter) {
			continue
		}
		if hasBounds && !bounds.contains(rec.Location.Lng, rec.Location.Lat) {
			continue
		}
		out = append(out, rec)
	}

	c.JSON(http.StatusOK, gin.H{
		"users": out,
		"count": len(out),
	})
}

type boundingBox struct {
	south, west, north, east float64
}

func (b boundingBox) contains(lng, lat float64) bool {
	return lng >= b.west && lng <= b.east && lat >= b.south && lat <= b.north
}

func parseBounds(raw string) (boundingBox, bool, error) {
	if raw == "" {
		return boundingBox{}, false, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return boundingBox{}, false, errors.New("bounds must have four components")
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return boundingBox{}, false, err
		}
		vals[i] = v
	}
	return boundingBox{south: vals[0], west: vals[1], north: vals[2], east: vals[3]}, true, nil
}
