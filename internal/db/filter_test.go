package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFilterExactSet(t *testing.T) {
	filter := NewFilter().ExactSet("member_ids", []string{"a", "b"}).Build()

	cond, ok := filter["member_ids"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, cond["$all"])
	assert.Equal(t, 2, cond["$size"], "without $size a superset would match too")
}

func TestFilterNe(t *testing.T) {
	filter := NewFilter().Ne("sender_id", "u1").Build()
	assert.Equal(t, bson.M{"$ne": "u1"}, filter["sender_id"])
}

func TestFilterObjectID(t *testing.T) {
	id := primitive.NewObjectID()

	t.Run("valid hex converts", func(t *testing.T) {
		fb := NewFilter().ObjectID("_id", id.Hex())
		require.NoError(t, fb.Err())
		assert.Equal(t, id, fb.Build()["_id"])
	})

	t.Run("malformed hex records the error", func(t *testing.T) {
		fb := NewFilter().ObjectID("_id", "nope")
		assert.Error(t, fb.Err(), "a dropped condition must not be silent")
		_, present := fb.Build()["_id"]
		assert.False(t, present, "the match-all condition must not land in the filter")
	})
}

func TestFilterObjectIDs(t *testing.T) {
	a, b := primitive.NewObjectID(), primitive.NewObjectID()

	t.Run("all valid", func(t *testing.T) {
		fb := NewFilter().ObjectIDs("_id", []string{a.Hex(), b.Hex()})
		require.NoError(t, fb.Err())
		cond, ok := fb.Build()["_id"].(bson.M)
		require.True(t, ok)
		assert.Equal(t, []primitive.ObjectID{a, b}, cond["$in"])
	})

	t.Run("one malformed entry records the error", func(t *testing.T) {
		fb := NewFilter().ObjectIDs("_id", []string{a.Hex(), "bad", b.Hex()})
		assert.Error(t, fb.Err())
		cond, ok := fb.Build()["_id"].(bson.M)
		require.True(t, ok)
		assert.Equal(t, []primitive.ObjectID{a, b}, cond["$in"], "valid ids still land in the filter")
	})
}

func TestFilterErrKeepsFirstFailure(t *testing.T) {
	fb := NewFilter().ObjectID("conversation_id", "first-bad").ObjectID("_id", "second-bad")
	require.Error(t, fb.Err())
	assert.Contains(t, fb.Err().Error(), "conversation_id")
}

func TestFilterChaining(t *testing.T) {
	filter := NewFilter().
		Eq("conversation_type", "dm").
		Eq("topic_ref", "berlin").
		Build()
	assert.Len(t, filter, 2)
}
