package hub

import (
	"testing"

	"Alumnet/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRoomIDRoundTrip(t *testing.T) {
	rooms := []RoomID{
		ConversationRoom("68a1f2e3d4c5b6a798887766"),
		CityRoom("berlin"),
		CompanyRoom("acme-corp"),
		UserRoom("user-42"),
	}
	for _, room := range rooms {
		parsed, err := ParseRoomID(room.String())
		require.NoError(t, err, "round trip for %s", room)
		assert.Equal(t, room, parsed)
	}
}

func TestParseRoomIDRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"conversation",
		"conversation:",
		"meeting:abc",
		"no-separator-here",
	} {
		_, err := ParseRoomID(s)
		assert.ErrorIs(t, err, ErrBadRoomID, "input %q", s)
	}
}

func TestParseRoomIDKeepsColonsInRef(t *testing.T) {
	parsed, err := ParseRoomID("city:san:francisco")
	require.NoError(t, err)
	assert.Equal(t, RoomCity, parsed.Kind)
	assert.Equal(t, "san:francisco", parsed.Ref)
}

func TestRoomForMapsKindToNamespace(t *testing.T) {
	id := primitive.NewObjectID()

	t.Run("dm keys by conversation id", func(t *testing.T) {
		conv := &model.Conversation{ID: id, Kind: model.KindDirect}
		assert.Equal(t, ConversationRoom(id.Hex()), RoomFor(conv))
	})

	t.Run("city room keys by topic ref", func(t *testing.T) {
		conv := &model.Conversation{ID: id, Kind: model.KindCity, TopicRef: "berlin"}
		assert.Equal(t, CityRoom("berlin"), RoomFor(conv))
	})

	t.Run("company room keys by topic ref", func(t *testing.T) {
		conv := &model.Conversation{ID: id, Kind: model.KindCompany, TopicRef: "acme"}
		assert.Equal(t, CompanyRoom("acme"), RoomFor(conv))
	})
}
